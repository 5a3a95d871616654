package integration

import (
	"bufio"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapyline/internal/identity"
	"therapyline/pkg/types"
)

const quiet = 200 * time.Millisecond

func TestScenarioA_AcceptThenEnd(t *testing.T) {
	h := NewHarness(t)
	child := h.Connect("childA", types.RoleChild)
	t1 := h.Connect("T1", types.RoleTherapist)

	created := h.Create("childA")

	pushed := t1.Expect(types.EventNewSessionRequest)
	assert.Equal(t, created.ID, pushed.Data["request_id"])
	assert.Equal(t, "Avery", pushed.Data["child"].(map[string]interface{})["name"])
	child.ExpectNothing(quiet)

	status, accepted, _ := h.Transition(created.ID, "accept", "T1")
	require.Equal(t, http.StatusOK, status)
	update := child.Expect(types.EventSessionRequestUpdated)
	assert.Equal(t, string(types.StatusInProgress), update.Data["status"])
	assert.Equal(t, "T1", update.Data["therapist_id"])

	status, ended, _ := h.Transition(created.ID, "end", "T1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(types.StatusCompleted), child.Expect(types.EventSessionRequestUpdated).Data["status"])
	assert.Equal(t, string(types.StatusCompleted), t1.Expect(types.EventSessionRequestUpdated).Data["status"])

	require.NotNil(t, accepted.AcceptedAt)
	require.NotNil(t, ended.EndedAt)
	assert.False(t, accepted.AcceptedAt.Before(created.RequestedAt))
	assert.False(t, ended.EndedAt.Before(*ended.AcceptedAt))
}

func TestScenarioB_CancelBeforeAccept(t *testing.T) {
	h := NewHarness(t)
	t1 := h.Connect("T1", types.RoleTherapist)
	t2 := h.Connect("T2", types.RoleTherapist)

	created := h.Create("childA")
	t1.Expect(types.EventNewSessionRequest)
	t2.Expect(types.EventNewSessionRequest)

	status, body := h.Call(http.MethodDelete, "/api/session-requests/"+created.ID, "childA", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	assert.Equal(t, created.ID, t1.Expect(types.EventSessionRequestDeleted).Data["request_id"])
	assert.Equal(t, created.ID, t2.Expect(types.EventSessionRequestDeleted).Data["request_id"])

	for _, req := range h.ListActive("T2") {
		assert.NotEqual(t, created.ID, req.ID)
	}
}

func TestScenarioC_SecondCreateConflicts(t *testing.T) {
	h := NewHarness(t)
	first := h.Create("childA")

	status, body := h.Call(http.MethodPost, "/api/session-requests", "childA", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(body), `"conflict"`)

	// A guardian acting for the same child hits the same rule.
	status, _ = h.Call(http.MethodPost, "/api/session-requests", "parentA", nil)
	assert.Equal(t, http.StatusConflict, status)

	count := 0
	for _, req := range h.ListActive("T1") {
		if req.ChildID == "childA" {
			count++
			assert.Equal(t, first.ID, req.ID)
		}
	}
	assert.Equal(t, 1, count)
}

func TestFanOutReachesOnlyRegisteredTherapists(t *testing.T) {
	h := NewHarness(t)
	t1 := h.Connect("T1", types.RoleTherapist)
	t2 := h.Connect("T2", types.RoleTherapist)
	child := h.Connect("childB", types.RoleChild)

	created := h.Create("childA")
	t1.Expect(types.EventNewSessionRequest)
	t2.Expect(types.EventNewSessionRequest)
	child.ExpectNothing(quiet)

	t3 := h.Connect("T3", types.RoleTherapist)
	t3.ExpectNothing(quiet)

	active := h.ListActive("T3")
	require.Len(t, active, 1)
	assert.Equal(t, created.ID, active[0].ID)
}

func TestConcurrentAcceptsHaveOneWinner(t *testing.T) {
	h := NewHarness(t)
	created := h.Create("childA")

	therapists := []string{"T1", "T2", "T3"}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		codes   []string
	)
	for _, id := range therapists {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, code := h.Transition(created.ID, "accept", id)
			mu.Lock()
			defer mu.Unlock()
			if status == http.StatusOK {
				winners = append(winners, id)
				return
			}
			codes = append(codes, code)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, []string{"invalid_state", "invalid_state"}, codes)

	status, body := h.Call(http.MethodGet, "/api/session-requests/my", "childA", nil)
	require.Equal(t, http.StatusOK, status)
	var mine types.SessionRequest
	require.NoError(t, json.Unmarshal(body, &mine))
	assert.Equal(t, winners[0], mine.TherapistID)
	assert.Equal(t, types.StatusInProgress, mine.Status)
}

func TestAcceptRetryIsRejected(t *testing.T) {
	h := NewHarness(t)
	created := h.Create("childA")

	status, first, _ := h.Transition(created.ID, "accept", "T1")
	require.Equal(t, http.StatusOK, status)

	status, _, code := h.Transition(created.ID, "accept", "T1")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", code)

	_, body := h.Call(http.MethodGet, "/api/session-requests/my", "childA", nil)
	var mine types.SessionRequest
	require.NoError(t, json.Unmarshal(body, &mine))
	assert.True(t, first.AcceptedAt.Equal(*mine.AcceptedAt), "acceptedAt is not rewritten")
}

func TestDeclineWithdrawsFromEveryTherapist(t *testing.T) {
	h := NewHarness(t)
	t1 := h.Connect("T1", types.RoleTherapist)
	t2 := h.Connect("T2", types.RoleTherapist)
	guardian := h.Connect("parentA", types.RoleParent)

	created := h.Create("parentA")
	t1.Expect(types.EventNewSessionRequest)
	t2.Expect(types.EventNewSessionRequest)

	status, _, _ := h.Transition(created.ID, "decline", "T1")
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, created.ID, t1.Expect(types.EventSessionRequestDeleted).Data["request_id"])
	assert.Equal(t, created.ID, t2.Expect(types.EventSessionRequestDeleted).Data["request_id"])
	assert.Equal(t, string(types.StatusDeclined), guardian.Expect(types.EventSessionRequestUpdated).Data["status"])

	// A fresh request is allowed after a decline.
	h.Create("childA")
}

func TestAcceptNotifiesOtherTherapistsOnly(t *testing.T) {
	h := NewHarness(t)
	t1 := h.Connect("T1", types.RoleTherapist)
	t2 := h.Connect("T2", types.RoleTherapist)

	created := h.Create("childA")
	t1.Expect(types.EventNewSessionRequest)
	t2.Expect(types.EventNewSessionRequest)

	status, _, _ := h.Transition(created.ID, "accept", "T1")
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, created.ID, t2.Expect(types.EventSessionRequestDeleted).Data["request_id"])
	t1.ExpectNothing(quiet)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	h := NewHarness(t)
	created := h.Create("childA")
	status, _, _ := h.Transition(created.ID, "accept", "T1")
	require.Equal(t, http.StatusOK, status)
	status, _, _ = h.Transition(created.ID, "end", "T1")
	require.Equal(t, http.StatusOK, status)

	for _, action := range []string{"accept", "decline", "end"} {
		status, _, code := h.Transition(created.ID, action, "T1")
		assert.Equal(t, http.StatusConflict, status, action)
		assert.Equal(t, "invalid_state", code, action)
	}
	status, _ = h.Call(http.MethodDelete, "/api/session-requests/"+created.ID, "childA", nil)
	assert.Equal(t, http.StatusConflict, status)

	_, body := h.Call(http.MethodGet, "/api/session-requests/my", "childA", nil)
	var mine types.SessionRequest
	require.NoError(t, json.Unmarshal(body, &mine))
	assert.Equal(t, types.StatusCompleted, mine.Status)
}

func TestServerSentEventsChannel(t *testing.T) {
	h := NewHarness(t)

	req, err := http.NewRequest(http.MethodGet, "http://"+h.base+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set(identity.HeaderUserID, "T2")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
	}()

	next := func() string {
		select {
		case ev := <-events:
			return ev
		case <-time.After(eventWait):
			t.Fatal("timed out waiting for SSE event")
			return ""
		}
	}

	require.Equal(t, types.EventRegistered, next())
	h.Create("childB")
	assert.Equal(t, types.EventNewSessionRequest, next())
}

func TestEventsRequireKnownCaller(t *testing.T) {
	h := NewHarness(t)
	status, _ := h.Call(http.MethodGet, "/api/events", "ghost", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}
