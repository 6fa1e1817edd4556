package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"AssistantChat/internal/ai"
	"AssistantChat/internal/app/requester"
	"AssistantChat/internal/config"
	"AssistantChat/internal/service/chat"
	"AssistantChat/internal/service/companion"
	"AssistantChat/internal/service/events"
	"AssistantChat/internal/service/image"
)

//go:embed static/index.html
var static embed.FS

// Ensure interface compliance
var _ events.EventServer = (*Server)(nil)

// Chat: то, что веб-интерфейс требует от requester.
type Chat interface {
	Submit(ctx context.Context, text string, att *requester.Attachment) (requester.Result, error)
	Snapshot() (string, []chat.Turn)
	Reset(ctx context.Context) error
}

// TurnView: реплика в ответе API. HTML есть только у ответов ассистента.
type TurnView struct {
	Role    ai.Role `json:"role"`
	Content string  `json:"content"`
	HTML    string  `json:"html,omitempty"`
}

type historyResponse struct {
	ThreadID string     `json:"thread_id"`
	Turns    []TurnView `json:"turns"`
}

type messageResponse struct {
	CycleID  string       `json:"cycle_id"`
	Status   ai.RunStatus `json:"status"`
	ThreadID string       `json:"thread_id"`
	Turns    []TurnView   `json:"turns"`
}

type errorResponse struct {
	Error   string `json:"error"`
	CycleID string `json:"cycle_id,omitempty"`
}

// Server отдаёт веб-интерфейс чата на echo (страница, REST и websocket с событиями цикла).
type Server struct {
	cfg      config.WebConfig
	chat     Chat
	hub      *Hub
	echo     *echo.Echo
	srv      *http.Server
	md       goldmark.Markdown
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
	running  atomic.Bool
}

func NewServer(cfg config.WebConfig, chat Chat, hub *Hub, logger *zap.SugaredLogger) *Server {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8501"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	s := &Server{
		cfg:    cfg,
		chat:   chat,
		hub:    hub,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Слушаем по умолчанию только localhost, страница отдаётся этим же сервером
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Warnw("HTTP-запрос", "method", v.Method, "uri", v.URI, "status", v.Status,
					"latency", v.Latency.String(), "error", v.Error)
				return nil
			}
			s.logger.Debugw("HTTP-запрос", "method", v.Method, "uri", v.URI, "status", v.Status,
				"latency", v.Latency.String())
			return nil
		},
	}))
	s.RegisterRoutes(e)
	s.echo = e

	// WriteTimeout не задаём: POST /api/messages держит ответ до конца запуска
	s.srv = &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// RegisterRoutes регистрирует маршруты интерфейса.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/", s.handleIndex)
	api := e.Group("/api")
	api.GET("/history", s.handleHistory)
	api.POST("/messages", s.handleMessage, middleware.BodyLimit(strconv.FormatInt(s.cfg.MaxUploadBytes, 10)+"B"))
	api.POST("/reset", s.handleReset)
	api.GET("/ws", s.handleWebSocket)
}

// Handler возвращает http.Handler сервера, удобно для httptest.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	go s.hub.Run(ctx)
	go func() {
		s.logger.Infow("Веб-интерфейс слушает", "addr", "http://"+s.srv.Addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("Веб-сервер остановился с ошибкой", "error", err)
		} else {
			s.logger.Infow("Веб-сервер остановлен")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.WithoutCancel(ctx))
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeoutCause(ctx, 5*time.Second, errors.New("web server shutdown timeout"))
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("Ошибка graceful shutdown", "error", err)
		return s.srv.Close()
	}
	return nil
}

func (s *Server) Addr() string { return s.cfg.BindAddr }

func (s *Server) handleIndex(c echo.Context) error {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, page)
}

func (s *Server) handleHistory(c echo.Context) error {
	threadID, turns := s.chat.Snapshot()
	return c.JSON(http.StatusOK, historyResponse{ThreadID: threadID, Turns: s.views(turns)})
}

func (s *Server) handleMessage(c echo.Context) error {
	text := c.FormValue("text")

	var att *requester.Attachment
	fh, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		f, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		att = &requester.Attachment{Name: fh.Filename, Data: data}
	}

	res, err := s.chat.Submit(c.Request().Context(), text, att)
	if err != nil {
		return c.JSON(errorStatus(err), errorResponse{Error: err.Error(), CycleID: res.CycleID})
	}
	return c.JSON(http.StatusOK, messageResponse{
		CycleID:  res.CycleID,
		Status:   res.Status,
		ThreadID: res.ThreadID,
		Turns:    s.views(res.Turns),
	})
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.chat.Reset(c.Request().Context()); err != nil {
		return c.JSON(errorStatus(err), errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warnw("Не удалось открыть websocket", "error", err)
		return err
	}
	conn := s.hub.NewConnection(ws)

	// Снимок кладём в буфер до регистрации, чтобы он шёл первым
	threadID, turns := s.chat.Snapshot()
	_ = s.hub.SendJSON(conn, events.Event{
		Kind:     events.KindSnapshot,
		Time:     time.Now(),
		ThreadID: threadID,
		Data:     s.views(turns),
	})
	if !s.hub.Register(conn) {
		return conn.Close()
	}

	ws.SetReadLimit(maxReadSize)
	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump читает сокет только ради pong и закрытия; входящие сообщения игнорируются.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		_ = conn.Close()
	}()

	_ = conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debugw("Websocket закрыт", "conn_id", conn.ID, "error", err)
			}
			return
		}
	}
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debugw("Не удалось записать в websocket", "conn_id", conn.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) views(turns []chat.Turn) []TurnView {
	out := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		v := TurnView{Role: t.Role, Content: t.Content}
		if !t.IsUser() {
			var buf bytes.Buffer
			if err := s.md.Convert([]byte(t.Content), &buf); err != nil {
				s.logger.Warnw("Не удалось отрендерить markdown", "error", err)
			} else {
				v.HTML = buf.String()
			}
		}
		out = append(out, v)
	}
	return out
}

// errorStatus сопоставляет ошибку цикла HTTP-статусу.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, companion.ErrEmptyText),
		errors.Is(err, image.ErrEmptyImage),
		errors.Is(err, image.ErrUnsupportedImage),
		errors.Is(err, image.ErrImageTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, requester.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, companion.ErrRunTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, companion.ErrRunCancelled), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case ai.IsRemote(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
