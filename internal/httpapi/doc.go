// Package httpapi exposes the bridge over HTTP.
//
// Routes:
//
//	GET    /healthz
//	GET    /packages
//	GET    /identifier?u=&p=&s=
//	POST   /bots
//	GET    /bots/{handle}
//	POST   /bots/{handle}/load
//	POST   /bots/{handle}/execute
//	GET    /bots/{handle}/configuration?password=true
//	GET    /bots/{handle}/notifications?after=N
//	DELETE /bots/{handle}
//
// Notifications are buffered per handle in their encoded form and polled
// with a sequence cursor.
package httpapi
