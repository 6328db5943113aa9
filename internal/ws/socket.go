package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"slidelive/internal/room"
)

// ConnCtx is the per-connection context: which room the socket belongs to and
// in what role.
type ConnCtx struct {
	Code  string
	Token string
	Role  string // "presenter" | "participant"
	Name  string
	Class string
}

func (c *ConnCtx) ctx() context.Context { return context.Background() }

// Server wires the socket.io channel to the room engine. It is the
// cross-device path of the transport multiplexer and the liveness source for
// presence.
type Server struct {
	io      *socketio.Server
	manager *room.Manager
	members map[string]map[string]socketio.Conn // room code -> socket id -> conn
	onEnd   func(sess room.Session, leaderboard []room.LeaderboardEntry)
}

// SetOnEnd registers a hook invoked after a session ends, e.g. for results
// export.
func (srv *Server) SetOnEnd(h func(sess room.Session, leaderboard []room.LeaderboardEntry)) {
	srv.onEnd = h
}

// New builds the socket server and the room manager on top of it. Every room
// gets its own multiplexer bound to the shared loopback path and this socket
// path.
func New(store room.Store, sink room.ResponseSink) *Server {
	srv := &Server{
		io:      socketio.NewServer(nil),
		members: make(map[string]map[string]socketio.Conn),
	}
	loopback := NewLoopback()
	srv.manager = room.NewManager(store, sink, func(code string) room.Publisher {
		m := NewMultiplexer(loopback, &socketPath{io: srv.io})
		m.JoinRoom(code)
		return m
	})
	return srv
}

func (srv *Server) Manager() *room.Manager { return srv.manager }

// socketPath broadcasts room events to every device subscribed to the room.
type socketPath struct {
	io *socketio.Server
}

func (p *socketPath) Name() string { return "socketio" }

func (p *socketPath) Send(code string, _ *Multiplexer, ev room.Event) error {
	if !p.io.BroadcastToRoom("/", code, string(ev.Type), ev.Payload) {
		return fmt.Errorf("broadcast to room %s failed", code)
	}
	return nil
}

// Mount attaches the socket.io server with all handlers to the Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := srv.io

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// room:create (presenter)
	io.OnEvent("/", "room:create", func(s socketio.Conn, payload struct {
		Slides     []room.Slide   `json:"slides"`
		ScoreMode  room.ScoreMode `json:"scoreMode"`
		BasePoints int            `json:"basePoints"`
	}) map[string]any {
		ctrl, err := srv.manager.CreateRoom(context.Background(), payload.Slides, payload.ScoreMode, payload.BasePoints)
		if err != nil {
			return srv.err(s, "create_failed", err.Error())
		}
		sess := ctrl.Snapshot()
		s.SetContext(&ConnCtx{Code: sess.RoomCode, Token: ctrl.HostToken(), Role: "presenter"})
		srv.enterRoom(sess.RoomCode, s)
		ctrl.Start(context.Background())
		log.Info().Str("sid", s.ID()).Str("code", sess.RoomCode).Msg("room:create")
		return map[string]any{"roomCode": sess.RoomCode, "hostToken": ctrl.HostToken()}
	})

	// room:join (participant). Joining the same room twice is a no-op;
	// joining a different room tears the previous subscription down first.
	io.OnEvent("/", "room:join", func(s socketio.Conn, payload struct {
		RoomCode string `json:"roomCode"`
		Name     string `json:"name"`
		Class    string `json:"class"`
	}) map[string]any {
		code := room.NormalizeCode(payload.RoomCode)
		ctx := s.Context().(*ConnCtx)
		if ctx.Code == code && ctx.Role == "participant" {
			return srv.stateFor(code)
		}
		if _, err := srv.manager.Join(ctx.ctx(), code); err != nil {
			return srv.err(s, "room_not_found", "Room not found or closed")
		}
		if ctx.Code != "" && ctx.Code != code {
			srv.leaveRoom(ctx.Code, s)
		}
		s.SetContext(&ConnCtx{Code: code, Role: "participant", Name: payload.Name, Class: payload.Class})
		srv.enterRoom(code, s)
		if ctrl, err := srv.manager.Get(code); err == nil {
			ctrl.Presence().Track(s.ID(), room.PresenceEntry{Name: payload.Name, Class: payload.Class})
		}
		log.Info().Str("sid", s.ID()).Str("code", code).Str("name", payload.Name).Msg("room:join")
		return srv.stateFor(code)
	})

	// room:resume (reconnection after reload; snapshot pull)
	io.OnEvent("/", "room:resume", func(s socketio.Conn, payload struct {
		RoomCode string `json:"roomCode"`
		Role     string `json:"role"`
		Token    string `json:"token"`
		Name     string `json:"name"`
		Class    string `json:"class"`
	}) map[string]any {
		code := room.NormalizeCode(payload.RoomCode)
		ctrl, err := srv.manager.Get(code)
		if err != nil {
			return srv.err(s, "room_not_found", "Room not found or closed")
		}
		if payload.Role == "presenter" && payload.Token != ctrl.HostToken() {
			return srv.err(s, "unauthorized", "Invalid host token")
		}
		s.SetContext(&ConnCtx{Code: code, Token: payload.Token, Role: payload.Role, Name: payload.Name, Class: payload.Class})
		srv.enterRoom(code, s)
		if payload.Role == "participant" {
			ctrl.Presence().Track(s.ID(), room.PresenceEntry{Name: payload.Name, Class: payload.Class})
		}
		log.Info().Str("sid", s.ID()).Str("code", code).Str("role", payload.Role).Msg("room:resume")
		return srv.stateFor(code)
	})

	// answer:submit (participant -> presenter)
	io.OnEvent("/", "answer:submit", func(s socketio.Conn, payload room.AnswerSubmitPayload) map[string]any {
		ctx := s.Context().(*ConnCtx)
		ctrl, err := srv.manager.Get(ctx.Code)
		if err != nil {
			return srv.err(s, "room_not_found", "Room not found or closed")
		}
		if payload.Name == "" {
			payload.Name = ctx.Name
			payload.Class = ctx.Class
		}
		if err := ctrl.SubmitAnswer(ctx.ctx(), payload); err != nil {
			// Duplicates and closed rounds degrade silently on the wire; the
			// participant's UI already shows the answer as recorded.
			log.Debug().Err(err).Str("name", payload.Name).Msg("submission rejected")
			return map[string]any{"accepted": false}
		}
		srv.emitToPresenters(ctx.Code, "answer:progress", map[string]any{
			"questionId": payload.QuestionID,
			"count":      ctrl.AnsweredCount(payload.QuestionID),
		})
		return map[string]any{"accepted": true}
	})

	// student:alert (participant -> presenter)
	io.OnEvent("/", "student:alert", func(s socketio.Conn, payload room.StudentAlertPayload) {
		ctx := s.Context().(*ConnCtx)
		ctrl, err := srv.manager.Get(ctx.Code)
		if err != nil {
			return
		}
		if payload.Name == "" {
			payload.Name = ctx.Name
		}
		ctrl.RecordAlert(payload.Name, payload.Reason)
		srv.emitToPresenters(ctx.Code, string(room.EventStudentAlert), payload)
	})

	// presenter operations
	io.OnEvent("/", "presenter:slide", func(s socketio.Conn, payload struct {
		Index int `json:"index"`
	}) map[string]any {
		ctrl, ctx, resp := srv.presenter(s)
		if ctrl == nil {
			return resp
		}
		ctrl.ChangeSlide(ctx.ctx(), payload.Index)
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "presenter:arm", func(s socketio.Conn, payload struct {
		QuestionIndex int `json:"questionIndex"`
	}) map[string]any {
		ctrl, ctx, resp := srv.presenter(s)
		if ctrl == nil {
			return resp
		}
		if err := ctrl.ArmQuestion(ctx.ctx(), payload.QuestionIndex); err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "presenter:stop", func(s socketio.Conn) map[string]any {
		ctrl, ctx, resp := srv.presenter(s)
		if ctrl == nil {
			return resp
		}
		_ = ctrl.StopQuestion(ctx.ctx())
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "presenter:reveal", func(s socketio.Conn) map[string]any {
		ctrl, ctx, resp := srv.presenter(s)
		if ctrl == nil {
			return resp
		}
		_ = ctrl.Reveal(ctx.ctx())
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "presenter:focus", func(s socketio.Conn, payload struct {
		Enabled bool `json:"enabled"`
	}) map[string]any {
		ctrl, ctx, resp := srv.presenter(s)
		if ctrl == nil {
			return resp
		}
		ctrl.SetFocusMode(ctx.ctx(), payload.Enabled)
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "presenter:leaderboard", func(s socketio.Conn, payload struct {
		Show bool `json:"show"`
	}) map[string]any {
		ctrl, ctx, resp := srv.presenter(s)
		if ctrl == nil {
			return resp
		}
		if payload.Show {
			ctrl.ShowLeaderboard(ctx.ctx())
		} else {
			ctrl.HideLeaderboard()
		}
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "presenter:override", func(s socketio.Conn, payload struct {
		QuestionID string `json:"questionId"`
		Name       string `json:"name"`
		Correct    bool   `json:"correct"`
	}) map[string]any {
		ctrl, ctx, resp := srv.presenter(s)
		if ctrl == nil {
			return resp
		}
		ctrl.OverrideGrade(ctx.ctx(), room.OverrideKey{QuestionID: payload.QuestionID, Name: payload.Name}, payload.Correct)
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "presenter:end", func(s socketio.Conn) map[string]any {
		ctrl, ctx, resp := srv.presenter(s)
		if ctrl == nil {
			return resp
		}
		sess := ctrl.Snapshot()
		lb, err := srv.manager.End(ctx.ctx(), ctx.Code)
		if err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		if srv.onEnd != nil {
			srv.onEnd(sess, lb)
		}
		return map[string]any{"ok": true, "leaderboard": lb}
	})

	// drawing relay (shared annotation layer; no rendering here)
	for _, t := range []room.EventType{room.EventDrawStart, room.EventDrawMove, room.EventDrawEnd} {
		t := t
		io.OnEvent("/", string(t), func(s socketio.Conn, payload room.DrawPayload) {
			ctx := s.Context().(*ConnCtx)
			ctrl, err := srv.manager.Get(ctx.Code)
			if err != nil {
				return
			}
			if err := ctrl.RelayDraw(room.Event{Type: t, Payload: payload}); err != nil {
				log.Debug().Err(err).Str("type", string(t)).Msg("draw relay rejected")
			}
		})
	}
	io.OnEvent("/", string(room.EventDrawClear), func(s socketio.Conn) {
		ctx := s.Context().(*ConnCtx)
		ctrl, err := srv.manager.Get(ctx.Code)
		if err != nil {
			return
		}
		_ = ctrl.RelayDraw(room.Event{Type: room.EventDrawClear})
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})

	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.Code != "" {
			srv.leaveRoom(ctx.Code, s)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// presenter resolves the connection's controller and enforces host authority.
func (srv *Server) presenter(s socketio.Conn) (*room.Controller, *ConnCtx, map[string]any) {
	ctx := s.Context().(*ConnCtx)
	ctrl, err := srv.manager.Get(ctx.Code)
	if err != nil {
		return nil, nil, srv.err(s, "room_not_found", "Room not found or closed")
	}
	if ctx.Role != "presenter" || ctx.Token != ctrl.HostToken() {
		return nil, nil, srv.err(s, "unauthorized", "Presenter authority required")
	}
	return ctrl, ctx, nil
}

func (srv *Server) enterRoom(code string, s socketio.Conn) {
	s.Join(code)
	if srv.members[code] == nil {
		srv.members[code] = make(map[string]socketio.Conn)
	}
	srv.members[code][s.ID()] = s
}

func (srv *Server) leaveRoom(code string, s socketio.Conn) {
	s.Leave(code)
	if m := srv.members[code]; m != nil {
		delete(m, s.ID())
	}
	if ctrl, err := srv.manager.Get(code); err == nil {
		ctrl.Presence().Forget(s.ID())
	}
}

func (srv *Server) emitToPresenters(code, event string, payload any) {
	for _, c := range srv.members[code] {
		if ctx, ok := c.Context().(*ConnCtx); ok && ctx.Role == "presenter" {
			c.Emit(event, payload)
		}
	}
}

// stateFor builds the snapshot a (re)joining device bootstraps from.
func (srv *Server) stateFor(code string) map[string]any {
	ctrl, err := srv.manager.Get(code)
	if err != nil {
		return map[string]any{"error": "Room not found or closed"}
	}
	sess := ctrl.Snapshot()
	lc := ctrl.Lifecycle()
	return map[string]any{
		"roomCode":         sess.RoomCode,
		"slides":           sess.PublicSlides(),
		"slideIndex":       sess.CurrentSlide,
		"activeQuestionId": sess.ActiveQuestionID,
		"focusMode":        sess.FocusMode,
		"scoreMode":        sess.ScoreMode,
		"members":          ctrl.Presence().Members(),
		"questionState":    string(lc.State()),
		"remaining":        lc.Remaining(),
	}
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message}
}
