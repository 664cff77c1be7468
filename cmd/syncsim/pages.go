package main

import (
	"context"
	"time"

	"github.com/uisync/uisync/page"
)

// registerDemoPages installs the sample pages the simulator serves: a menu,
// a counter with command handlers, and a page whose load step suspends on a
// slow external call, exercising interim updates.
func registerDemoPages(r *page.Registry) {
	must(r.Register("menu", &page.Module{
		View: map[string]any{
			"title": "Menu",
			"elements": []any{
				map[string]any{"control": "button", "caption": "Counter", "binding": "counter"},
				map[string]any{"control": "button", "caption": "Weather", "binding": "weather"},
			},
		},
		InitializeViewModel: func(c page.Context, userData map[string]any, params, state map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
		Commands: map[string]page.CommandHandler{
			"counter": func(c page.Context, userData, viewModel, params map[string]any) error {
				return c.PushAndNavigateTo("counter", nil, nil)
			},
			"weather": func(c page.Context, userData, viewModel, params map[string]any) error {
				return c.PushAndNavigateTo("weather", nil, nil)
			},
		},
	}))

	must(r.Register("counter", &page.Module{
		View: map[string]any{
			"title": "Counter",
			"elements": []any{
				map[string]any{"control": "text", "value": "{count}", "color": "{fontColor}"},
				map[string]any{"control": "button", "caption": "Increment", "binding": "inc"},
				map[string]any{"control": "button", "caption": "Decrement", "binding": "dec"},
				map[string]any{"control": "button", "caption": "Reset", "binding": "reset"},
			},
		},
		InitializeViewModel: func(c page.Context, userData map[string]any, params, state map[string]any) (map[string]any, error) {
			count := 0
			if state != nil {
				if saved, ok := state["count"].(float64); ok {
					count = int(saved)
				}
			}
			return map[string]any{"count": count, "fontColor": colorFor(count)}, nil
		},
		Commands: map[string]page.CommandHandler{
			"inc":   varyCount(+1),
			"dec":   varyCount(-1),
			"reset": func(c page.Context, userData, viewModel, params map[string]any) error { return setCount(viewModel, 0) },
		},
	}))

	must(r.Register("weather", &page.Module{
		View: map[string]any{
			"title": "Weather",
			"elements": []any{
				map[string]any{"control": "text", "value": "{status}"},
				map[string]any{"control": "text", "value": "{forecast}"},
			},
		},
		InitializeViewModel: func(c page.Context, userData map[string]any, params, state map[string]any) (map[string]any, error) {
			return map[string]any{"status": "Loading...", "forecast": ""}, nil
		},
		LoadViewModel: func(c page.Context, userData, viewModel map[string]any) error {
			viewModel["status"] = "Contacting weather service..."
			if err := c.InterimUpdate(); err != nil {
				return err
			}
			forecast, err := c.WaitFor(fetchForecast)
			if err != nil {
				return err
			}
			viewModel["status"] = "Current conditions"
			viewModel["forecast"] = forecast
			return nil
		},
	}))
}

func varyCount(delta int) page.CommandHandler {
	return func(c page.Context, userData, viewModel, params map[string]any) error {
		count := 0
		switch n := viewModel["count"].(type) {
		case int:
			count = n
		case float64:
			count = int(n)
		}
		return setCount(viewModel, count+delta)
	}
}

func setCount(viewModel map[string]any, count int) error {
	viewModel["count"] = count
	viewModel["fontColor"] = colorFor(count)
	return nil
}

func colorFor(count int) string {
	switch {
	case count < 0:
		return "Red"
	case count >= 10:
		return "Green"
	default:
		return "Black"
	}
}

// fetchForecast stands in for a slow upstream call.
func fetchForecast(ctx context.Context) (any, error) {
	select {
	case <-time.After(500 * time.Millisecond):
		return "Sunny, high of 70", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
