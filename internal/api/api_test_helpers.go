package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parkslope/psp/internal/db"
	"github.com/parkslope/psp/internal/logging"
	"github.com/parkslope/psp/internal/models"
	"github.com/parkslope/psp/internal/testutil"
	"github.com/stretchr/testify/require"
)

// seedListings stores messages 1..5. 5 is a #ForSale listing with a price,
// 4 is #ISO, 2 and 3 reply to topic 1.
func seedListings(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	messages := testutil.NewMessages(1, 5)
	for i := range messages {
		msg := &messages[i]
		switch msg.ID {
		case 5:
			msg.Subject = "Oak dresser"
			msg.Body = "Solid oak, asking $120 or best offer."
			msg.Hashtags = []models.Hashtag{{MessageID: 5, Name: "ForSale"}}
		case 4:
			msg.Subject = "Looking for a crib"
			msg.Hashtags = []models.Hashtag{{MessageID: 4, Name: "ISO"}}
		case 2, 3:
			msg.TopicID = 1
			msg.IsReply = true
		}
	}

	_, err := db.InsertNewOnly(context.Background(), pool, messages)
	require.NoError(t, err)
}

// serve runs one request through the full router without rate limiting.
func serve(t *testing.T, q db.Querier, target string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(q, nil, logging.Discard())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}
