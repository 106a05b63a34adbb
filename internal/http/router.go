package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Segments   *SegmentHandler
	Annotators *AnnotatorHandler
	Admin      *AdminHandler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Segments != nil {
		mux.HandleFunc("/segments", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Segments.List(w, r)
		})
		mux.HandleFunc("/segments/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathParts(r.URL.Path, "/segments/")
			switch {
			case len(parts) == 1 && parts[0] == "count":
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Segments.Count(w, r)
			case len(parts) == 1:
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Segments.Get(w, r, parts[0])
			case len(parts) == 3 && parts[1] == "annotations":
				if r.Method != http.MethodPut {
					methodNotAllowed(w, http.MethodPut)
					return
				}
				cfg.Segments.Annotate(w, r, parts[0], parts[2])
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Annotators != nil {
		mux.HandleFunc("/annotators", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Annotators.List(w, r)
		})
		mux.HandleFunc("/annotators/me", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Annotators.Me(w, r)
		})
		mux.HandleFunc("/classes", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Annotators.Classes(w, r)
		})
	}

	if cfg.Admin != nil {
		mux.HandleFunc("/admin/annotators", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Admin.CreateAnnotator(w, r)
		})
		mux.HandleFunc("/admin/annotators/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathParts(r.URL.Path, "/admin/annotators/")
			if len(parts) < 2 {
				http.NotFound(w, r)
				return
			}
			username := parts[0]
			switch strings.Join(parts[1:], "/") {
			case "password":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Admin.ResetPassword(w, r, username)
			case "campaign":
				if r.Method != http.MethodPut {
					methodNotAllowed(w, http.MethodPut)
					return
				}
				cfg.Admin.AssignCampaign(w, r, username)
			case "campaign/segments":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Admin.AppendSegment(w, r, username)
			default:
				http.NotFound(w, r)
			}
		})
		mux.HandleFunc("/admin/campaigns", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Admin.ImportCampaigns(w, r)
		})
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}

	return handler
}

// pathParts splits the path below prefix. Empty elements make the path
// unroutable, so nil is returned for them.
func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	parts := strings.Split(rest, "/")
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return nil
		}
	}
	return parts
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
