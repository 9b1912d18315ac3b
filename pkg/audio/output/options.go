// ABOUTME: Functional options for output construction
// ABOUTME: Lets callers inject a scoped logger
package output

import "github.com/sirupsen/logrus"

type options struct {
	log *logrus.Entry
}

// Option configures an output backend
type Option func(*options)

// WithLogger sets the logger used by the backend
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}
