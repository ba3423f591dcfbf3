package httpapi

import (
	"net"
	"net/http"

	"github.com/safar/autoparts-store/internal/ads"
)

// handleAds serves one placement as an array, or every canonical placement
// keyed by name when no placement is given.
func (s *Server) handleAds(w http.ResponseWriter, r *http.Request) {
	placement := r.URL.Query().Get("placement")

	if placement == "" {
		out, err := s.ads.ServeAll(r.Context(), func(p string) map[int64]bool {
			return ads.SeenFromRequest(r, p)
		})
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, r, http.StatusOK, out)
		return
	}

	creatives, err := s.ads.Serve(r.Context(), placement, ads.SeenFromRequest(r, placement))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, creatives)
}

func (s *Server) handleAdClick(w http.ResponseWriter, r *http.Request) {
	target, err := s.ads.Click(r.Context(), r.URL.Query(), ads.ClickMeta{
		Referer:   r.Referer(),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
