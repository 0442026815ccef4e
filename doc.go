// Package olakai monitors and supervises function calls from inside the
// calling process. It wraps functions, asks the Olakai control endpoint
// whether a call may run, and reports what happened to the monitoring
// endpoint through a batching, persistent delivery queue that never
// blocks or breaks the wrapped call.
//
// Usage:
//
//	if err := olakai.Init(apiKey, "https://app.olakai.ai"); err != nil {
//	    log.Fatal(err)
//	}
//	defer olakai.Shutdown(context.Background())
//
//	double := olakai.SuperviseDefault(func(ctx context.Context, n int) (int, error) {
//	    return n * 2, nil
//	}, olakai.WithTask("math"))
//	result, err := double(ctx, 21)
//
// Multiple independent clients are available through olakai.New and
// olakai.Supervise. Monitoring failures surface only through the
// optional error callback; the wrapped function's result and error are
// always returned verbatim.
package olakai
