// Package perf runs loadrun tests from Go code.
//
// A test is a configuration document plus a Script holding the iteration
// functions its scenarios name through exec:
//
//	cfg, err := perf.Load("test.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	script := &perf.Script{
//	    Exec: map[string]perf.IterationFunc{
//	        "default": func(ctx context.Context, it *perf.Iteration) error {
//	            return nil
//	        },
//	    },
//	}
//	result, err := perf.NewRunner(cfg, script).Run(ctx)
//
//	fmt.Printf("Status: %s\n", result.Status)
//	fmt.Printf("Passed: %v\n", result.Passed)
//
// # HTTP
//
// Every VU gets an HTTP client honoring the transport options of the
// configuration. Iterations reach it through HTTP:
//
//	s, err := perf.HTTP(ctx, it)
//	resp, err := s.Do(perf.Get("https://example.test/health"))
//
// # Summary
//
// The rendered summary of a run is in Result.Outputs, keyed by destination.
// WriteSummary sends it to stdout, stderr or files.
package perf
