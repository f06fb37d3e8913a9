// Package apperrors provides typed application errors that carry an HTTP
// status code and support wrapping. Errors form chains: a package defines a
// small set of root errors and derives more specific ones from them, so
// errors.Is works against any ancestor in the chain.
package apperrors

// Error is the interface implemented by all application errors. All methods
// return Error so calls can be chained.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // derive a fresh error from this one as a template
	Msg(msg string) Error                  // new error with msg, wrapping this one
	MsgErr(msg string, err ...error) Error // new error with msg, wrapping this one and err
	Err(err ...error) Error                // same message, additionally wrapping err
	SetStatusCode(int) Error               // set the HTTP status code
	StatusCode() int                       // current HTTP status code
	ErrorAll() string                      // message including all wrapped errors
	UnwrapAll() []error                    // all wrapped errors in order
}
