package main

// this file contains implementation of HTTP handlers - REST API

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/himanshub16/upnext-room/hub"
	"github.com/himanshub16/upnext-room/room"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
)

const defaultHistoryLimit = 20

type api struct {
	service Service
	radio   *Radio
}

func NewHTTPRouter(service Service, radio *Radio, jwtSecret []byte) *echo.Echo {
	a := &api{service: service, radio: radio}

	r := echo.New()
	r.HideBanner = true
	r.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}\n",
	}))
	r.GET("/ws", a.websocketHandler)

	router := r.Group("/api")
	router.GET("/health", a.healthCheckHandler)
	router.POST("/login", a.loginHandler)

	radioGroup := router.Group("/radio")
	radioGroup.Use(middleware.JWT(jwtSecret))
	{
		radioGroup.GET("/now_playing", a.radioGetNowPlayingHandler)
		radioGroup.GET("/queue", a.radioGetQueueHandler)
		radioGroup.GET("/history", a.radioGetHistoryHandler)
	}

	return r
}

func (a *api) healthCheckHandler(c echo.Context) error {
	return c.String(http.StatusOK, "I am up and running!")
}

func (a *api) loginHandler(c echo.Context) error {
	u := User{}
	if err := c.Bind(&u); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": "Missing form data",
		})
	}
	if u.UserID == "" {
		u.UserID = c.FormValue("user_id")
	}
	if u.UserID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": "Missing user_id",
		})
	}

	cred, err := a.service.Login(c.Request().Context(), u)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"token":      cred.Token,
		"expires_at": cred.ExpiresAt.Unix(),
	})
}

func (a *api) websocketHandler(c echo.Context) error {
	ws, err := hub.Upgrade(c.Response(), c.Request())
	if err != nil {
		log.Println("websocket upgrade failed", err)
		return nil
	}
	a.radio.Serve(ws)
	return nil
}

func (a *api) radioGetNowPlayingHandler(c echo.Context) error {
	snap, err := a.radio.Snapshot(c.Request().Context())
	if err != nil {
		return err
	}
	np := snap.NowPlaying
	if np == nil {
		return c.JSON(http.StatusOK, echo.Map{
			"state":       "idle",
			"track":       nil,
			"player_time": 0,
		})
	}

	resp := echo.Map{
		"state":       "running",
		"track":       np.Track,
		"player_time": playerTime(np, time.Now()),
	}
	if user, err := a.service.GetUserByID(c.Request().Context(), np.SubmittedBy); err == nil {
		resp["submitted_by"] = echo.Map{
			"user_id":   user.UserID,
			"firstname": user.FirstName,
			"lastname":  user.LastName,
		}
	} else {
		resp["submitted_by"] = echo.Map{"user_id": np.SubmittedBy}
	}
	return c.JSON(http.StatusOK, resp)
}

// playerTime is the elapsed seconds of the current track, clamped to its
// duration.
func playerTime(np *room.NowPlayingView, now time.Time) int64 {
	elapsed := now.UnixNano()/int64(time.Millisecond) - np.StartedAt
	if elapsed < 0 {
		elapsed = 0
	}
	if np.DurationMs > 0 && elapsed > np.DurationMs {
		elapsed = np.DurationMs
	}
	return elapsed / 1000
}

type queueItem struct {
	room.QueueEntryView
	MyVote int `json:"my_vote"`
}

func (a *api) radioGetQueueHandler(c echo.Context) error {
	snap, err := a.radio.Snapshot(c.Request().Context())
	if err != nil {
		return err
	}
	userID := getUserIDFromContext(c)

	items := make([]queueItem, len(snap.Queue))
	for i, e := range snap.Queue {
		items[i] = queueItem{QueueEntryView: e, MyVote: e.Votes[userID]}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"queue":  items,
		"roster": snap.Roster,
	})
}

func (a *api) radioGetHistoryHandler(c echo.Context) error {
	limit := int64(defaultHistoryLimit)
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"message": "invalid limit",
			})
		}
		limit = n
	}

	plays, err := a.service.RecentPlays(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if plays == nil {
		plays = []Play{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"plays": plays,
	})
}

func getUserIDFromContext(c echo.Context) string {
	return c.Get("user").(*jwt.Token).Claims.(jwt.MapClaims)["user_id"].(string)
}
