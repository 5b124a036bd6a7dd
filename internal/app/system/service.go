// Package system runs the long-lived parts of the process in a fixed order.
package system

import "context"

// Service is a component the Manager starts and stops, such as the HTTP
// server or the realtime bridge. Start must not block.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
