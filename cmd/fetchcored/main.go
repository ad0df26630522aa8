// Command fetchcored runs the web-fetch service: a JSON-RPC-over-stdio
// front end backed by the admission/scheduling/rate-limiting/breaker/
// cache/pool core, with admin HTTP and gRPC surfaces for operators.
package main

import "fetchcore/internal/runtime"

func main() {
	runtime.New().Run()
}
