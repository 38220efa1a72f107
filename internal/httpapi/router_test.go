package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"suggestbox/api/internal/app"
	"suggestbox/api/internal/config"
	"suggestbox/api/internal/httpapi"
	"suggestbox/api/internal/ratelimit"
	"suggestbox/api/internal/store"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("redis down") }

func testConfig() config.Config {
	return config.Config{
		Env:                    "test",
		JWTSecret:              "router-secret",
		AccessTTL:              time.Hour,
		TrackingCodeLength:     8,
		TrackingCodeAttempts:   3,
		DefaultPageSize:        10,
		MaxPageSize:            50,
		BootstrapAdminUsername: "superadmin",
		BootstrapAdminPassword: "root-password",
	}
}

type response struct {
	*httptest.ResponseRecorder
}

func (r response) object() map[string]any {
	var body map[string]any
	Expect(json.Unmarshal(r.Body.Bytes(), &body)).To(Succeed())
	return body
}

var _ = Describe("Router", func() {
	var (
		router  *gin.Engine
		mem     *store.MemoryStore
		svc     *app.Service
		library int64
		other   int64
	)

	do := func(method, path, token string, body any) response {
		var reader *bytes.Reader
		switch v := body.(type) {
		case nil:
			reader = bytes.NewReader(nil)
		case string:
			reader = bytes.NewReader([]byte(v))
		default:
			raw, err := json.Marshal(v)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(raw)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return response{w}
	}

	login := func(username, password string) string {
		w := do(http.MethodPost, "/api/v1/admin/login", "", map[string]string{"username": username, "password": password})
		Expect(w.Code).To(Equal(http.StatusOK), w.Body.String())
		token, _ := w.object()["token"].(string)
		Expect(token).NotTo(BeEmpty())
		return token
	}

	submit := func(department int64, public bool) string {
		w := do(http.MethodPost, "/api/v1/suggestions", "", map[string]any{
			"title":          "More benches",
			"content":        "The courtyard needs benches",
			"department_id":  department,
			"submitter_name": "Kim",
			"is_public":      public,
		})
		Expect(w.Code).To(Equal(http.StatusCreated), w.Body.String())
		return w.object()["tracking_code"].(string)
	}

	idOf := func(code string) int64 {
		item, err := mem.GetSuggestionByCode(context.Background(), code)
		Expect(err).NotTo(HaveOccurred())
		return item.ID
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		ctx := context.Background()
		mem = store.NewMemoryStore()

		var err error
		svc, err = app.New(testConfig(), mem, app.WithPasswordCost(bcrypt.MinCost))
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.Bootstrap(ctx)).To(Succeed())
		_, err = svc.Seed(ctx, app.SeedData{
			Departments: []string{"Library", "Logistics"},
			Staff: []app.SeedStaff{
				{Username: "library.admin", Password: "library-password", Role: "admin", Department: "Library"},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		departments, err := mem.ListDepartments(ctx)
		Expect(err).NotTo(HaveOccurred())
		for _, d := range departments {
			switch d.Name {
			case "Library":
				library = d.ID
			case "Logistics":
				other = d.ID
			}
		}

		router = httpapi.NewRouter(httpapi.RouterConfig{
			CORSOrigin:    "https://box.example",
			SubmitLimiter: ratelimit.NewMemoryLimiter(3, time.Minute),
		}, svc, nil)
	})

	Describe("health", func() {
		It("reports liveness", func() {
			w := do(http.MethodGet, "/api/health", "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()).To(HaveKeyWithValue("ok", true))
		})

		It("reports readiness per dependency", func() {
			w := do(http.MethodGet, "/api/ready", "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()).To(HaveKeyWithValue("status", "ready"))

			router = httpapi.NewRouter(httpapi.RouterConfig{CORSOrigin: "*"}, svc, map[string]httpapi.Pinger{"redis": failingPinger{}})
			w = do(http.MethodGet, "/api/ready", "", nil)
			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
			body := w.object()
			Expect(body).To(HaveKeyWithValue("status", "not_ready"))
			checks := body["checks"].(map[string]any)
			Expect(checks["database"]).To(HaveKeyWithValue("status", "ok"))
			Expect(checks["redis"]).To(HaveKeyWithValue("error", "redis down"))
		})
	})

	Describe("middleware", func() {
		It("answers preflight requests with CORS headers", func() {
			w := do(http.MethodOptions, "/api/v1/suggestions", "", nil)
			Expect(w.Code).To(Equal(http.StatusNoContent))
			Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://box.example"))
			Expect(w.Header().Get("Access-Control-Allow-Headers")).To(ContainSubstring("Authorization"))
		})

		It("echoes or assigns a request id", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			req.Header.Set("X-Request-ID", "abc-123")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Header().Get("X-Request-ID")).To(Equal("abc-123"))

			Expect(do(http.MethodGet, "/api/health", "", nil).Header().Get("X-Request-ID")).NotTo(BeEmpty())
		})

		It("returns JSON errors for unknown routes and methods", func() {
			w := do(http.MethodGet, "/api/v1/nope", "", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(w.object()).To(HaveKeyWithValue("code", "NOT_FOUND"))

			w = do(http.MethodPatch, "/api/v1/departments", "", nil)
			Expect(w.Code).To(Equal(http.StatusMethodNotAllowed))
		})

		It("recovers from panics", func() {
			engine := gin.New()
			engine.Use(httpapi.Recovery())
			engine.GET("/boom", func(*gin.Context) { panic("boom") })
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(response{w}.object()).To(HaveKeyWithValue("code", "SERVER_ERROR"))
		})
	})

	Describe("public endpoints", func() {
		It("lists departments", func() {
			w := do(http.MethodGet, "/api/v1/departments", "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()["data"]).To(HaveLen(2))
		})

		It("lets a submitter look up their suggestion without exposing submitter fields", func() {
			code := submit(library, false)

			w := do(http.MethodGet, "/api/v1/suggestions/"+code, "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := w.object()
			Expect(body).To(HaveKeyWithValue("status", "PENDING_REVIEW"))
			Expect(body).To(HaveKeyWithValue("department_name", "Library"))
			Expect(body).NotTo(HaveKey("submitter_name"))
			Expect(body).NotTo(HaveKey("is_public"))
			Expect(body).NotTo(HaveKey("id"))

			Expect(do(http.MethodGet, "/api/v1/suggestions/NOSUCHCODE", "", nil).Code).To(Equal(http.StatusNotFound))
		})

		It("rejects malformed bodies", func() {
			w := do(http.MethodPost, "/api/v1/suggestions", "", `{"title":"t","content":"c","department_id":1,"votes":9}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.object()).To(HaveKeyWithValue("code", "INVALID_BODY"))

			w = do(http.MethodPost, "/api/v1/suggestions", "", `{"title":`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))

			w = do(http.MethodPost, "/api/v1/suggestions", "", map[string]any{"title": "", "content": "c", "department_id": library})
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(w.object()["details"]).To(HaveKey("title"))
		})

		It("throttles submissions per client", func() {
			for i := 0; i < 3; i++ {
				submit(library, true)
			}
			w := do(http.MethodPost, "/api/v1/suggestions", "", map[string]any{"title": "t", "content": "c", "department_id": library})
			Expect(w.Code).To(Equal(http.StatusTooManyRequests))
			Expect(w.object()).To(HaveKeyWithValue("code", "RATE_LIMITED"))
			seconds, err := strconv.Atoi(w.Header().Get("Retry-After"))
			Expect(err).NotTo(HaveOccurred())
			Expect(seconds).To(BeNumerically(">=", 1))

			// Reads and upvotes are not throttled.
			Expect(do(http.MethodGet, "/api/v1/suggestions", "", nil).Code).To(Equal(http.StatusOK))
		})

		It("only lists reviewed public suggestions in the feed", func() {
			root := login("superadmin", "root-password")
			visible := submit(library, true)
			submit(library, true)
			hidden := submit(library, false)
			for _, code := range []string{visible, hidden} {
				w := do(http.MethodPost, "/api/v1/admin/suggestions/"+strconv.FormatInt(idOf(code), 10)+"/approve", root, nil)
				Expect(w.Code).To(Equal(http.StatusOK))
			}

			w := do(http.MethodGet, "/api/v1/suggestions?page=1&page_size=5&department_id="+strconv.FormatInt(library, 10), "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := w.object()
			Expect(body).To(HaveKeyWithValue("total", BeNumerically("==", 1)))
			Expect(body).To(HaveKeyWithValue("page_size", BeNumerically("==", 5)))
			data := body["data"].([]any)
			Expect(data).To(HaveLen(1))
			Expect(data[0]).To(HaveKeyWithValue("tracking_code", visible))

			Expect(do(http.MethodGet, "/api/v1/suggestions?department_id=abc", "", nil).Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("counts anonymous upvotes", func() {
			code := submit(library, true)
			for i := 1; i <= 3; i++ {
				w := do(http.MethodPost, "/api/v1/suggestions/"+code+"/upvote", "", nil)
				Expect(w.Code).To(Equal(http.StatusOK))
				Expect(w.object()).To(HaveKeyWithValue("upvotes", BeNumerically("==", i)))
			}
		})
	})

	Describe("staff endpoints", func() {
		It("requires a bearer token", func() {
			Expect(do(http.MethodGet, "/api/v1/admin/me", "", nil).Code).To(Equal(http.StatusUnauthorized))
			Expect(do(http.MethodGet, "/api/v1/admin/me", "not-a-jwt", nil).Code).To(Equal(http.StatusUnauthorized))

			w := do(http.MethodPost, "/api/v1/admin/login", "", map[string]string{"username": "library.admin", "password": "nope"})
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(w.object()).To(HaveKeyWithValue("code", "UNAUTHORIZED"))
		})

		It("logs in, identifies and logs out", func() {
			token := login("library.admin", "library-password")

			w := do(http.MethodGet, "/api/v1/admin/me", token, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()).To(HaveKeyWithValue("department_name", "Library"))

			Expect(do(http.MethodPost, "/api/v1/admin/logout", token, nil).Code).To(Equal(http.StatusNoContent))
			Expect(do(http.MethodGet, "/api/v1/admin/me", token, nil).Code).To(Equal(http.StatusUnauthorized))
		})

		It("moves a suggestion through review, status and reply", func() {
			token := login("library.admin", "library-password")
			code := submit(library, true)
			path := "/api/v1/admin/suggestions/" + strconv.FormatInt(idOf(code), 10)

			w := do(http.MethodGet, path, token, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()).To(HaveKeyWithValue("submitter_name", "Kim"))

			Expect(do(http.MethodPost, path+"/approve", token, nil).Code).To(Equal(http.StatusOK))
			w = do(http.MethodPost, path+"/reject", token, nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
			Expect(w.object()).To(HaveKeyWithValue("code", "INVALID_TRANSITION"))

			w = do(http.MethodPut, path+"/status", token, map[string]string{"status": "RESOLVED"})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()).To(HaveKeyWithValue("status", "RESOLVED"))

			w = do(http.MethodPut, path+"/status", token, map[string]string{"status": "PENDING_REVIEW"})
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))

			w = do(http.MethodPost, path+"/replies", token, map[string]string{"content": "Benches ordered"})
			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(w.object()["replies"]).To(HaveLen(1))

			Expect(do(http.MethodPost, path+"/upvote", token, nil).Code).To(Equal(http.StatusOK))

			w = do(http.MethodGet, "/api/v1/suggestions/"+code, "", nil)
			replies := w.object()["replies"].([]any)
			Expect(replies).To(HaveLen(1))
			Expect(replies[0]).To(HaveKeyWithValue("replier_name", "library.admin"))

			Expect(do(http.MethodGet, "/api/v1/admin/suggestions/abc", token, nil).Code).To(Equal(http.StatusNotFound))
		})

		It("keeps department admins inside their scope", func() {
			token := login("library.admin", "library-password")
			submit(library, false)
			foreign := idOf(submit(other, false))

			w := do(http.MethodGet, "/api/v1/admin/suggestions?status_view=pending", token, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()).To(HaveKeyWithValue("total", BeNumerically("==", 1)))

			w = do(http.MethodGet, "/api/v1/admin/suggestions?department_id="+strconv.FormatInt(other, 10), token, nil)
			Expect(w.Code).To(Equal(http.StatusForbidden))

			Expect(do(http.MethodGet, "/api/v1/admin/suggestions?status_view=weird", token, nil).Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(do(http.MethodGet, "/api/v1/admin/suggestions?status=DONE", token, nil).Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(do(http.MethodGet, "/api/v1/admin/suggestions/"+strconv.FormatInt(foreign, 10), token, nil).Code).To(Equal(http.StatusForbidden))

			w = do(http.MethodGet, "/api/v1/admin/dashboard/stats", token, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()).To(HaveKeyWithValue("total_suggestions", BeNumerically("==", 1)))
		})

		It("deletes in bulk only when every id is allowed", func() {
			token := login("library.admin", "library-password")
			mine := idOf(submit(library, false))
			foreign := idOf(submit(other, false))

			w := do(http.MethodDelete, "/api/v1/admin/suggestions", token, map[string]any{"ids": []int64{mine, foreign}})
			Expect(w.Code).To(Equal(http.StatusForbidden))
			Expect(w.object()["details"]).To(HaveKeyWithValue("forbidden_ids", ConsistOf(BeNumerically("==", foreign))))

			_, err := mem.GetSuggestion(context.Background(), mine)
			Expect(err).NotTo(HaveOccurred())

			w = do(http.MethodDelete, "/api/v1/admin/suggestions", token, map[string]any{"ids": []int64{mine}})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()).To(HaveKeyWithValue("deleted", BeNumerically("==", 1)))
		})
	})

	Describe("super admin endpoints", func() {
		It("are closed to department admins", func() {
			token := login("library.admin", "library-password")
			Expect(do(http.MethodGet, "/api/v1/admin/users", token, nil).Code).To(Equal(http.StatusForbidden))
			Expect(do(http.MethodGet, "/api/v1/admin/departments", token, nil).Code).To(Equal(http.StatusForbidden))
			Expect(do(http.MethodPost, "/api/v1/admin/departments", token, map[string]string{"name": "Sports"}).Code).To(Equal(http.StatusForbidden))
		})

		It("manage departments and accounts", func() {
			root := login("superadmin", "root-password")

			w := do(http.MethodPost, "/api/v1/admin/departments", root, map[string]string{"name": "Sports"})
			Expect(w.Code).To(Equal(http.StatusCreated))
			sports := int64(w.object()["id"].(float64))
			sportsPath := "/api/v1/admin/departments/" + strconv.FormatInt(sports, 10)

			Expect(do(http.MethodPut, sportsPath, root, map[string]string{"name": "Athletics"}).Code).To(Equal(http.StatusOK))

			w = do(http.MethodPost, "/api/v1/admin/users", root, map[string]any{
				"username": "coach", "password": "coach-password", "role": "admin", "department_id": sports,
			})
			Expect(w.Code).To(Equal(http.StatusCreated), w.Body.String())
			coach := int64(w.object()["id"].(float64))
			coachPath := "/api/v1/admin/users/" + strconv.FormatInt(coach, 10)

			w = do(http.MethodDelete, sportsPath, root, nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
			Expect(w.object()).To(HaveKeyWithValue("code", "DEPARTMENT_IN_USE"))

			w = do(http.MethodPut, coachPath, root, map[string]any{"can_view_all": true})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()).To(HaveKeyWithValue("can_view_all", true))

			w = do(http.MethodGet, "/api/v1/admin/users", root, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.object()["data"]).To(HaveLen(3))

			Expect(do(http.MethodDelete, coachPath, root, nil).Code).To(Equal(http.StatusNoContent))
			Expect(do(http.MethodDelete, sportsPath, root, nil).Code).To(Equal(http.StatusNoContent))

			w = do(http.MethodGet, "/api/v1/admin/me", root, nil)
			rootID := int64(w.object()["id"].(float64))
			w = do(http.MethodDelete, "/api/v1/admin/users/"+strconv.FormatInt(rootID, 10), root, nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
		})
	})
})
