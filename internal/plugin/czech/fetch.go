package czech

import (
	"context"
	"fmt"

	"github.com/gocolly/colly/v2"
)

// queryForm is the extracted submission target for one status lookup.
type queryForm struct {
	Action string
	Method string
	Fields map[string]string
}

func (p *Plugin) newCollector() *colly.Collector {
	c := colly.NewCollector(colly.MaxDepth(1))
	c.IgnoreRobotsTxt = true
	if p.cfg.UserAgent != "" {
		c.UserAgent = p.cfg.UserAgent
	}
	c.SetRequestTimeout(p.cfg.Timeout)
	return c
}

// fetchPage retrieves the query form page. The collector runs in its own
// goroutine so a canceled context unblocks the caller immediately.
func (p *Plugin) fetchPage(ctx context.Context, url string) ([]byte, error) {
	c := p.newCollector()

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	if err := p.runCollector(ctx, func() error { return c.Visit(url) }, c); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response from %s", url)
	}
	return body, nil
}

// submitForm posts the extracted form and returns the response body.
func (p *Plugin) submitForm(ctx context.Context, form *queryForm) ([]byte, error) {
	c := p.newCollector()

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	if err := p.runCollector(ctx, func() error { return c.Post(form.Action, form.Fields) }, c); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response from %s", form.Action)
	}
	return body, nil
}

// runCollector starts the visit in a goroutine and waits for either the
// collector to drain or the context to end.
func (p *Plugin) runCollector(ctx context.Context, visit func() error, c *colly.Collector) error {
	done := make(chan error, 1)
	go func() {
		if err := visit(); err != nil {
			done <- err
			return
		}
		c.Wait()
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	}
}
