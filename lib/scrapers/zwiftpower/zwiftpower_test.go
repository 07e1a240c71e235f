package zwiftpower

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type ssoServer struct {
	*httptest.Server
	logins        int
	failForm      bool
	rejectCreds   bool
	noRedirect    bool
	teamResults   string
	profileHtml   string
	lastFormData  map[string]string
	sessionCookie string
}

func newSsoServer(t *testing.T) *ssoServer {
	s := &ssoServer{sessionCookie: "zp_session"}
	mux := http.NewServeMux()

	mux.HandleFunc("/ucp.php", func(w http.ResponseWriter, r *http.Request) {
		if s.noRedirect {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Location", s.URL+"/sso/login")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/sso/login", func(w http.ResponseWriter, r *http.Request) {
		if s.failForm {
			fmt.Fprint(w, `<html><body>down for maintenance</body></html>`)
			return
		}
		fmt.Fprintf(w, `<html><body>
			<form id="form" action="%s/sso/submit" method="post">
				<input type="hidden" name="session_code" value="csrf-123"/>
				<input type="text" name="username" value=""/>
				<input type="password" name="password" value=""/>
				<input type="checkbox" name="rememberMe" value=""/>
			</form>
		</body></html>`, s.URL)
	})
	mux.HandleFunc("/sso/submit", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		s.lastFormData = map[string]string{}
		for k := range r.PostForm {
			s.lastFormData[k] = r.PostForm.Get(k)
		}
		if s.rejectCreds {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Location", s.URL+"/final")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		s.logins++
		http.SetCookie(w, &http.Cookie{Name: "phpbb3_session", Value: s.sessionCookie})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api3.php", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("do") {
		case "team_results":
			fmt.Fprint(w, s.teamResults)
		case "team_riders":
			fmt.Fprint(w, `{"data":[{"riderId":1,"name":"A"},{"riderId":2,"name":"B"}]}`)
		}
	})
	mux.HandleFunc("/profile.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, s.profileHtml)
	})
	mux.HandleFunc("/cache3/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newTestClient(t *testing.T, server *ssoServer, ttl time.Duration) *Client {
	client, err := NewClient(ClientOptions{
		BaseUrl:    server.URL,
		Username:   "rider@dzr.dk",
		Password:   "secret",
		SessionTtl: ttl,
	})
	require.NoError(t, err)
	return client
}

func TestLoginFlow(t *testing.T) {
	server := newSsoServer(t)
	client := newTestClient(t, server, time.Hour)

	err := client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, server.logins)

	// hidden fields survive, credentials overwritten, rememberMe forced on
	require.Equal(t, "csrf-123", server.lastFormData["session_code"])
	require.Equal(t, "rider@dzr.dk", server.lastFormData["username"])
	require.Equal(t, "secret", server.lastFormData["password"])
	require.Equal(t, "on", server.lastFormData["rememberMe"])
}

func TestSessionReuse(t *testing.T) {
	server := newSsoServer(t)
	client := newTestClient(t, server, time.Hour)
	ctx := context.Background()

	require.NoError(t, client.EnsureSession(ctx))
	first := client.SessionCreatedAt()
	require.NoError(t, client.EnsureSession(ctx))
	require.Equal(t, first, client.SessionCreatedAt())
	require.Equal(t, 1, server.logins)
}

func TestSessionExpiry(t *testing.T) {
	server := newSsoServer(t)
	client := newTestClient(t, server, time.Millisecond*50)
	ctx := context.Background()

	require.NoError(t, client.EnsureSession(ctx))
	time.Sleep(time.Millisecond * 60)
	require.NoError(t, client.EnsureSession(ctx))
	require.Equal(t, 2, server.logins)
}

func TestLoginNoRedirect(t *testing.T) {
	server := newSsoServer(t)
	server.noRedirect = true
	client := newTestClient(t, server, time.Hour)

	err := client.Login(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, StepExternalRedirect, authErr.Step)
}

func TestLoginFormMissing(t *testing.T) {
	server := newSsoServer(t)
	server.failForm = true
	client := newTestClient(t, server, time.Hour)

	err := client.Login(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, StepLoginForm, authErr.Step)
}

func TestLoginBadCredentials(t *testing.T) {
	server := newSsoServer(t)
	server.rejectCreds = true
	client := newTestClient(t, server, time.Hour)

	err := client.Login(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, StepCredentials, authErr.Step)
}

func TestGetTeamResults(t *testing.T) {
	server := newSsoServer(t)
	server.teamResults = `{
		"events": {
			"100": {"title": "3R Volcano Flat Race"},
			"101": {"title": "DZR After Party"}
		},
		"data": [
			{"name": "Anna", "zwid": 1, "zid": "100", "f_t": "TYPE_RACE", "position_in_cat": 1, "wkg20": ["4.2", 0]},
			{"name": "Bo", "zwid": 2, "zid": "100", "f_t": "TYPE_RACE", "position_in_cat": 2, "wkg20": ["3.9", 0]},
			{"name": "", "zwid": 3, "zid": "100"},
			{"name": "Carl", "zwid": 3, "zid": "101", "f_t": "GROUP_RIDE", "wkg20": [null, 0]}
		]
	}`
	client := newTestClient(t, server, time.Hour)

	results, err := client.GetTeamResults(context.Background(), 2281)
	require.NoError(t, err)
	require.Len(t, results.Rows, 3)
	require.Equal(t, "3R Volcano Flat Race", results.Events["100"].Title)

	anna := results.Rows[0]
	require.Equal(t, int64(1), anna.RiderId)
	require.True(t, anna.IsRace())
	require.NotNil(t, anna.PowerToWeight20Min)
	require.Equal(t, 4.2, *anna.PowerToWeight20Min)
	require.NotNil(t, anna.PositionInCategory)
	require.Equal(t, 1, *anna.PositionInCategory)

	carl := results.Rows[2]
	require.False(t, carl.IsRace())
	require.Nil(t, carl.PowerToWeight20Min)
	require.Nil(t, carl.PositionInCategory)
}

func TestGetTeamRiders(t *testing.T) {
	server := newSsoServer(t)
	client := newTestClient(t, server, time.Hour)

	riders, err := client.GetTeamRiders(context.Background(), 2281)
	require.NoError(t, err)
	require.Len(t, riders, 2)
}

func TestGetRiderProfileNotFound(t *testing.T) {
	server := newSsoServer(t)
	client := newTestClient(t, server, time.Hour)

	profile, err := client.GetRiderProfile(context.Background(), 99)
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestGetRiderRacingScore(t *testing.T) {
	server := newSsoServer(t)
	server.profileHtml = `<html><body><table>
		<tr><th>FTP</th><td><b>280</b></td></tr>
		<tr><th>Zwift Racing Score</th><td><b>612</b></td></tr>
	</table></body></html>`
	client := newTestClient(t, server, time.Hour)

	score, err := client.GetRiderRacingScore(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, score)
	require.Equal(t, float64(612), *score)
}

func TestGetRiderRacingScoreMissing(t *testing.T) {
	server := newSsoServer(t)
	server.profileHtml = `<html><body><table>
		<tr><th>FTP</th><td><b>280</b></td></tr>
	</table></body></html>`
	client := newTestClient(t, server, time.Hour)

	score, err := client.GetRiderRacingScore(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, score)
}
