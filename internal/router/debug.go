package router

import (
	"log"
	"os"
	"strings"
)

var routeDebugEnabled = strings.EqualFold(os.Getenv("ROUTECHAT_ROUTE_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if routeDebugEnabled {
		log.Printf(format, args...)
	}
}
