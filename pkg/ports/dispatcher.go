package ports

// Dispatcher hands work to the thread that owns an instance. The finish phase of an
// asynchronous initialization is posted through it so that installing the arena and
// the non thread-safe node hooks run on the main thread.
type Dispatcher interface {
	Post(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Post calls f.
func (f DispatcherFunc) Post(fn func()) { f(fn) }
