package flags

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/valyala/fastjson"
)

const configPath = "/api/config"

// Fetch retrieves the remote flag set: a flat JSON object of primitive
// values. Every failure mode (transport, status, parse) yields an empty
// set, never an error.
func Fetch(ctx context.Context, client *http.Client, host, apiKey string) map[string]any {
	empty := map[string]any{}
	if host == "" || apiKey == "" {
		return empty
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(host, "/")+configPath, nil)
	if err != nil {
		return empty
	}
	req.Header.Set("x-api-key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return empty
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return empty
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty
	}
	parsed, err := fastjson.ParseBytes(body)
	if err != nil || parsed.Type() != fastjson.TypeObject {
		return empty
	}

	obj, err := parsed.Object()
	if err != nil {
		return empty
	}

	out := make(map[string]any, obj.Len())
	obj.Visit(func(key []byte, v *fastjson.Value) {
		switch v.Type() {
		case fastjson.TypeString:
			if b, err := v.StringBytes(); err == nil {
				out[string(key)] = string(b)
			}
		case fastjson.TypeNumber:
			if f, err := v.Float64(); err == nil {
				out[string(key)] = f
			}
		case fastjson.TypeTrue:
			out[string(key)] = true
		case fastjson.TypeFalse:
			out[string(key)] = false
		}
	})
	return out
}
