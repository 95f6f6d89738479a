package devserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sitegate/internal/comments"
	"github.com/sitegate/pkg/models"
)

func (s *Server) handleMe(c echo.Context) error {
	acc, _ := CurrentAccount(c)
	return c.JSON(http.StatusOK, acc.Public())
}

func (s *Server) handleLogin(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, detail("Invalid request body"))
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return c.JSON(http.StatusUnprocessableEntity, detail("Email and password are required"))
	}

	acc, err := s.data.Authenticate(req.Email, req.Password)
	switch {
	case errors.Is(err, ErrNotVerified):
		return c.JSON(http.StatusForbidden, detail("EMAIL_NOT_VERIFIED"))
	case err != nil:
		return c.JSON(http.StatusUnauthorized, detail("Invalid email or password"))
	}

	token, expiresAt, err := s.tokens.CreateToken(acc)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", acc.ID).Msg("Failed to create session token")
		return c.JSON(http.StatusInternalServerError, detail("Failed to create session"))
	}

	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.logger.Info().Int64("user_id", acc.ID).Str("email", acc.Email).Msg("User logged in")
	return c.JSON(http.StatusOK, map[string]interface{}{"user": acc.Public()})
}

func (s *Server) handleLogout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, models.TranslatedResponse{Message: "Logged out"})
}

func (s *Server) handleVerifyEmail(c echo.Context) error {
	var req models.VerifyEmailRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, detail("Invalid request body"))
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" {
		return c.JSON(http.StatusUnprocessableEntity, detail("Email and code are required"))
	}

	err := s.data.Verify(req.Email, req.Code)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return c.JSON(http.StatusNotFound, detail("USER_NOT_FOUND"))
	case errors.Is(err, ErrAlreadyVerified):
		return c.JSON(http.StatusOK, models.TranslatedResponse{TranslationCode: "EMAIL_ALREADY_VERIFIED"})
	case errors.Is(err, ErrInvalidCode):
		return c.JSON(http.StatusBadRequest, detail("INVALID_VERIFICATION_CODE"))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, detail(err.Error()))
	}

	s.logger.Info().Str("email", req.Email).Msg("Email verified")
	return c.JSON(http.StatusOK, models.TranslatedResponse{
		TranslationCode: "EMAIL_VERIFICATION_SUCCESS",
		Message:         "Email verified successfully",
	})
}

func (s *Server) handleResend(c echo.Context) error {
	var req models.ResendVerificationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, detail("Invalid request body"))
	}
	if strings.TrimSpace(req.Email) == "" {
		return c.JSON(http.StatusUnprocessableEntity, detail("Email is required"))
	}

	code, err := s.data.NewCode(req.Email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return c.JSON(http.StatusNotFound, detail("USER_NOT_FOUND"))
	case errors.Is(err, ErrAlreadyVerified):
		return c.JSON(http.StatusBadRequest, detail(map[string]string{
			"type":    "info",
			"message": "EMAIL_ALREADY_VERIFIED",
		}))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, detail(err.Error()))
	}

	// No mail is sent; the code goes to the log for local use.
	s.logger.Info().Str("email", req.Email).Str("lang", req.Lang).Str("code", code).Msg("Verification code issued")
	return c.JSON(http.StatusOK, models.TranslatedResponse{TranslationCode: "VERIFICATION_CODE_SENT"})
}

func (s *Server) handleListComments(c echo.Context) error {
	slug := c.Param("slug")
	list, err := s.data.Comments(slug)
	if errors.Is(err, ErrPostNotFound) {
		return c.JSON(http.StatusNotFound, detail("Post not found"))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, detail(err.Error()))
	}
	return c.JSON(http.StatusOK, comments.NewTree(list).Roots())
}

func (s *Server) handleCreateComment(c echo.Context) error {
	acc, _ := CurrentAccount(c)

	var req models.CreateCommentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, detail("Invalid request body"))
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return c.JSON(http.StatusUnprocessableEntity, detail("Content is required"))
	}

	created, err := s.data.AddComment(c.Param("slug"), acc.Username, content, req.ParentID)
	switch {
	case errors.Is(err, ErrPostNotFound):
		return c.JSON(http.StatusNotFound, detail("Post not found"))
	case errors.Is(err, ErrParentNotFound):
		return c.JSON(http.StatusNotFound, detail("Parent comment not found"))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, detail(err.Error()))
	}

	return c.JSON(http.StatusCreated, created)
}

func (s *Server) handleAdminPosts(c echo.Context) error {
	page, err := queryInt(c, "page", 1)
	if err != nil || page < 1 {
		return c.JSON(http.StatusUnprocessableEntity, detail("page must be a positive integer"))
	}
	perPage, err := queryInt(c, "per_page", 10)
	if err != nil || perPage < 1 || perPage > 100 {
		return c.JSON(http.StatusUnprocessableEntity, detail("per_page must be between 1 and 100"))
	}

	items, total := s.data.Posts(page, perPage)
	pages := (total + perPage - 1) / perPage

	return c.JSON(http.StatusOK, models.PaginatedPosts{
		Items:   items,
		Total:   total,
		Page:    page,
		Pages:   pages,
		PerPage: perPage,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
