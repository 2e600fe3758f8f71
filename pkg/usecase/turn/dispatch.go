package turn

import (
	"context"
	"sync"

	"github.com/m-mizutani/denoise/pkg/tool"
	"google.golang.org/genai"
)

type dispatched struct {
	call genai.FunctionCall
	out  *tool.Output
	err  error
}

// dispatch executes the requested tool calls concurrently, each under its
// own timeout, and returns results indexed by request order
func (x *Orchestrator) dispatch(ctx context.Context, calls []genai.FunctionCall) []dispatched {
	results := make([]dispatched, len(calls))

	var wg sync.WaitGroup
	for i, fc := range calls {
		wg.Add(1)
		go func(i int, fc genai.FunctionCall) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, x.toolTimeout)
			defer cancel()

			out, err := x.registry.Execute(callCtx, fc)
			results[i] = dispatched{call: fc, out: out, err: err}
		}(i, fc)
	}
	wg.Wait()

	return results
}
