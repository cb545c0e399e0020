package model

import "errors"

// ErrOfflineUnavailable is returned when offline operation was requested
// and no cached or stored data can answer the request.
var ErrOfflineUnavailable = errors.New("offline mode: no cached data available")
