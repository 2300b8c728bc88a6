package skill

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Call is one item of a batch.
type Call struct {
	SkillID string `json:"skill_id"`
	Input   Input  `json:"input"`
}

// BatchReport partitions a batch's records. Executions keeps input order.
type BatchReport struct {
	Executions []*Execution `json:"executions"`
	Successful []*Execution `json:"successful"`
	Failed     []*Execution `json:"failed"`
}

func report(execs []*Execution) BatchReport {
	rep := BatchReport{Executions: execs}
	for _, e := range execs {
		if e.Succeeded() {
			rep.Successful = append(rep.Successful, e)
		} else {
			rep.Failed = append(rep.Failed, e)
		}
	}
	return rep
}

// ExecuteBatch runs calls one after another.
func (r *Runtime) ExecuteBatch(ctx context.Context, calls []Call, sc *Context) BatchReport {
	execs := make([]*Execution, len(calls))
	for i, c := range calls {
		execs[i] = r.Invoke(ctx, c.SkillID, c.Input, sc)
	}
	return report(execs)
}

// ExecuteConcurrent runs up to limit calls at a time. limit < 1 means one.
func (r *Runtime) ExecuteConcurrent(ctx context.Context, calls []Call, sc *Context, limit int) BatchReport {
	if limit < 1 {
		limit = 1
	}
	execs := make([]*Execution, len(calls))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, c := range calls {
		g.Go(func() error {
			execs[i] = r.Invoke(ctx, c.SkillID, c.Input, sc)
			return nil
		})
	}
	_ = g.Wait()
	return report(execs)
}
