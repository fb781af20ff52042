// Package router selects routes from the compiled model by request host and
// path. Matching is deterministic: hosts compare exactly after
// normalization, and within a host the first declared pattern that matches
// wins. Operators order specific routes before broader wildcards.
package router

import (
	"github.com/rampartproxy/rampart/internal/config"
)

// Match resolves a request host and path against the model. The returned
// route is nil when no virtual host claims the host or no pattern in the
// matched host covers the path.
func Match(model *config.Compiled, host, path string) *config.CompiledRoute {
	vh := matchHost(model, host)
	if vh == nil {
		return nil
	}
	for i := range vh.Routes {
		if vh.Routes[i].Pattern.Match(path) {
			return &vh.Routes[i]
		}
	}
	return nil
}

func matchHost(model *config.Compiled, host string) *config.CompiledVirtualHost {
	name := config.NormalizeHost(host)
	for i := range model.Hosts {
		for _, h := range model.Hosts[i].Hosts {
			if h == name {
				return &model.Hosts[i]
			}
		}
	}
	return nil
}
