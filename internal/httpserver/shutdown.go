package httpserver

import "time"

// ShutdownTimeout bounds graceful shutdown of the server and the background
// workers stopped after it.
var ShutdownTimeout = 15 * time.Second
