// platform-sim is a reference integrating platform for local development. It
// serves the webhook wallo calls (subject reads and action notifications) and
// exposes /populate, which submits a batch of fake pending subjects for
// review.
package main

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"

	"wallo.org/internal/moderation"
)

type subject struct {
	ID     string             `json:"id"`
	Kind   string             `json:"kind"`
	Medias []moderation.Media `json:"medias"`
	Status string             `json:"status"` // pending, published, rejected
}

type sim struct {
	mu       sync.Mutex
	subjects map[string]*subject

	secret     string
	walloURL   string
	platformID string
}

type webhookRequest struct {
	SubjectID   string `json:"subjectId"`
	SubjectKind string `json:"subjectKind"`
	Action      string `json:"action,omitempty"`
}

func main() {
	s := &sim{
		subjects:   make(map[string]*subject),
		secret:     os.Getenv("WALLO_SECRET"),
		walloURL:   os.Getenv("WALLO_URL"),
		platformID: os.Getenv("PLATFORM_ID"),
	}
	if s.secret == "" || s.walloURL == "" || s.platformID == "" {
		log.Fatal("WALLO_SECRET, WALLO_URL and PLATFORM_ID are required")
	}

	addr := os.Getenv("PLATFORM_SIM_ADDR")
	if addr == "" {
		addr = ":9801"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/populate", s.handlePopulate)
	mux.HandleFunc("/wallo", s.handleWebhook)

	log.Printf("platform-sim listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

// handlePopulate creates fake pending subjects and asks wallo to review each.
func (s *sim) handlePopulate(w http.ResponseWriter, r *http.Request) {
	for i := 0; i < 10; i++ {
		sub := &subject{
			ID:     uuid.NewString(),
			Kind:   "content",
			Status: "pending",
			Medias: fakeMedias(),
		}
		s.mu.Lock()
		s.subjects[sub.ID] = sub
		s.mu.Unlock()

		if err := s.requestReview(r.Context(), sub); err != nil {
			log.Printf("requestPublication for %s: %v", sub.ID, err)
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Populated.")
}

func (s *sim) requestReview(ctx context.Context, sub *subject) error {
	body, _ := json.Marshal(map[string]string{
		"id":       sub.ID,
		"kind":     sub.Kind,
		"clientId": s.platformID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.walloURL+"/api/v0/requestPublication", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.secret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// handleWebhook is the endpoint wallo calls: without an action it is a read,
// with one it applies the moderation decision.
func (s *sim) handleWebhook(w http.ResponseWriter, r *http.Request) {
	header := []byte(r.Header.Get("Authorization"))
	want := []byte("Bearer " + s.secret)
	if len(header) != len(want) || subtle.ConstantTimeCompare(header, want) != 1 {
		http.Error(w, "Unauthorized.", http.StatusUnauthorized)
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjects[req.SubjectID]
	if !ok || sub.Kind != req.SubjectKind {
		http.Error(w, "Not found.", http.StatusNotFound)
		return
	}

	switch req.Action {
	case "":
		// read only
	case "publish":
		sub.Status = "published"
	case "reject":
		sub.Status = "rejected"
	case "unpublish":
		sub.Status = "pending"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(moderation.SubjectSnapshot{
		Medias:          sub.Medias,
		PossibleActions: possibleActionsForStatus(sub.Status),
	})
}

func possibleActionsForStatus(status string) []moderation.PossibleAction {
	switch status {
	case "pending":
		return []moderation.PossibleAction{
			{ID: "publish", Display: "Publish", Variant: "default"},
			{ID: "reject", Display: "Reject", Variant: "destructive"},
		}
	case "published":
		return []moderation.PossibleAction{
			{ID: "unpublish", Display: "Unpublish", Variant: "destructive"},
		}
	case "rejected":
		return []moderation.PossibleAction{
			{ID: "publish", Display: "Publish", Variant: "default"},
		}
	default:
		return nil
	}
}

var loremWords = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing",
	"elit", "sed", "do", "eiusmod", "tempor", "incididunt", "labore",
}

func fakeMedias() []moderation.Media {
	n := rand.Intn(3) + 1
	out := make([]moderation.Media, 0, n)
	for i := 0; i < n; i++ {
		if rand.Intn(2) == 0 {
			out = append(out, moderation.Media{Kind: "text", Message: fakeSentence()})
		} else {
			out = append(out, moderation.Media{
				Kind: "image",
				URL:  fmt.Sprintf("https://picsum.photos/seed/%d/400/400", rand.Intn(1_000_000)),
			})
		}
	}
	return out
}

func fakeSentence() string {
	n := rand.Intn(6) + 4
	var b bytes.Buffer
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(loremWords[rand.Intn(len(loremWords))])
	}
	b.WriteByte('.')
	return b.String()
}
