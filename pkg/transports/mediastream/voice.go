package mediastream

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
	twilioclient "github.com/twilio/twilio-go/client"
)

// handleVoice answers the gateway's call webhook with TwiML that connects the
// call audio to the bridge. The provider is carried in the stream URL path
// because <Stream> URLs cannot hold query strings.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.cfg.AuthToken != "" && !s.validateTwilioRequest(r) {
		s.logger.Warn("twilio_invalid_signature",
			slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	provider := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("provider")))
	twiml := `<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="` +
		xmlEscape(s.websocketURL(r, provider)) + `"/></Connect></Response>`
	s.logger.Info("voice_webhook",
		slog.String("call_sid", r.PostForm.Get("CallSid")),
		slog.String("provider", provider))
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

func (s *Server) websocketURL(r *http.Request, provider string) string {
	host := r.Host
	if s.cfg.PublicURL != "" {
		host = normalizePublicURL(s.cfg.PublicURL)
	}
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	path := s.cfg.WebsocketPath
	if provider != "" {
		path = strings.TrimRight(path, "/") + "/" + provider
	}
	return "wss://" + host + path
}

func (s *Server) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || s.cfg.AuthToken == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	validator := twilioclient.NewRequestValidator(s.cfg.AuthToken)
	return validator.Validate(s.requestURL(r), params, signature)
}

func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(s.cfg.PublicURL) + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}
