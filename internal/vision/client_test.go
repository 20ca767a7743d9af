package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 2)

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		})
	}))
}

func testRequest() Request {
	return Request{
		AssignmentID: uuid.New(),
		ProofURL:     "https://cdn.example.com/p.png",
		Platform:     "instagram",
		ActionType:   "like",
		TargetURL:    "https://instagram.com/p/abc",
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
		want    *Verdict
		wantErr error
	}{
		{
			name:    "approved",
			status:  http.StatusOK,
			content: `{"success": true, "confidence": 0.93, "rationale": "like button is filled"}`,
			want:    &Verdict{Success: true, Confidence: 0.93, Rationale: "like button is filled"},
		},
		{
			name:    "fenced json",
			status:  http.StatusOK,
			content: "```json\n{\"success\": false, \"confidence\": 0.8, \"rationale\": \"wrong post\"}\n```",
			want:    &Verdict{Success: false, Confidence: 0.8, Rationale: "wrong post"},
		},
		{
			name:    "confidence out of range",
			status:  http.StatusOK,
			content: `{"success": true, "confidence": 3, "rationale": "x"}`,
			wantErr: ErrMalformedVerdict,
		},
		{
			name:    "missing field",
			status:  http.StatusOK,
			content: `{"success": true}`,
			wantErr: ErrMalformedVerdict,
		},
		{
			name:    "prose",
			status:  http.StatusOK,
			content: `Looks good to me!`,
			wantErr: ErrMalformedVerdict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.status, tt.content)
			defer srv.Close()

			c, err := NewClient(srv.URL+"/", "key", "test-model")
			require.NoError(t, err)
			got, err := c.Analyze(context.Background(), testRequest())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnalyze_UpstreamError(t *testing.T) {
	srv := chatServer(t, http.StatusServiceUnavailable, "")
	defer srv.Close()

	c, err := NewClient(srv.URL, "key", "test-model")
	require.NoError(t, err)
	_, err = c.Analyze(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestAnalyze_NoProofURL(t *testing.T) {
	c, err := NewClient("http://unused", "key", "test-model")
	require.NoError(t, err)
	req := testRequest()
	req.ProofURL = ""
	_, err = c.Analyze(context.Background(), req)
	assert.Error(t, err)
}
