package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sensei-labs/senseid/build"
)

var log = build.SubLogger(build.SubsystemEventBus)

// LogNotifier prints a structured line per event, spec.md §6: "a log
// notifier prints structured lines".
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ev Event) {
	log.Infof("event kind=%s node_id=%s payload=%+v", ev.Kind, ev.NodeID, ev.Payload)
}

// HTTPNotifier POSTs {event: <json-string>} with a bearer token to a
// configured webhook URL, spec.md §6's external HTTP notifier. A failed
// delivery is logged and dropped -- events are best-effort once they
// leave the process, matching spec.md §4.3's scorer-loss-on-crash
// tolerance for non-critical background signals.
type HTTPNotifier struct {
	URL   string
	Token string
	http  *http.Client
}

func NewHTTPNotifier(url, token string) *HTTPNotifier {
	return &HTTPNotifier{URL: url, Token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

func (n *HTTPNotifier) Notify(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("marshaling event for HTTP notifier: %v", err)
		return
	}

	body, err := json.Marshal(map[string]string{"event": string(raw)})
	if err != nil {
		log.Errorf("marshaling HTTP notifier envelope: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		log.Errorf("building HTTP notifier request: %v", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+n.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		log.Warnf("HTTP notifier delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Warnf("HTTP notifier received status %d", resp.StatusCode)
	}
}
