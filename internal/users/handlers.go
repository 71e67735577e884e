package users

import (
	"net/http"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/httpx"
	"github.com/ageniuscoder/roomchat/internal/otp"
	"github.com/ageniuscoder/roomchat/internal/store"
	"github.com/gin-gonic/gin"
)

type Service struct {
	Store     *store.Store
	JWTSecret string
	JWTTTLMin int
	OTP       *otp.Service
}

type signupInitReq struct {
	Username string `json:"username" binding:"required,min=3,max=32,alphanum"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type signupVerifyReq struct {
	Username string `json:"username" binding:"required,min=3,max=32,alphanum"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"` // send again on verify
	OTP      string `json:"otp" binding:"required,numeric"`
}

type loginReq struct {
	Username string `json:"username" binding:"required" `
	Password string `json:"password" binding:"required"`
}

type forgotInitReq struct {
	Email string `json:"email" binding:"required,email"`
}

type resetReq struct {
	Email       string `json:"email" binding:"required,email"`
	OTP         string `json:"otp" binding:"required,numeric"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=72"`
}

func RegisterPublic(rg *gin.RouterGroup, s *Service) {
	rg.POST("/signup/initiate", s.signupInitiate)
	rg.POST("/signup/verify", s.signupVerify)
	rg.POST("/login", s.login)
	rg.POST("/forgot/initiate", s.forgotInitiate)
	rg.PUT("/forgot/reset", s.resetPassword)
}

var errInvalidOTP = apperr.Unauthorized("invalid otp")
var errInvalidCredentials = apperr.Unauthorized("invalid credentials")

func (s *Service) issue(c *gin.Context, uid int64) {
	tok, err := auth.NewToken(s.JWTSecret, uid, s.JWTTTLMin)
	if err != nil {
		httpx.Fail(c, apperr.Internal("token generation failed", err))
		return
	}
	httpx.OK(c, gin.H{"token": tok, "user_id": uid})
}

func (s *Service) signupInitiate(c *gin.Context) {
	var req signupInitReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	exists, err := s.Store.UserExists(c.Request.Context(), req.Username, req.Email)
	if err != nil {
		httpx.Fail(c, apperr.Internal("user lookup failed", err))
		return
	}
	if exists {
		httpx.Fail(c, apperr.AlreadyExists("username or email already exists"))
		return
	}
	if _, err := s.OTP.Generate(c.Request.Context(), req.Email, otp.PurposeSignup); err != nil {
		httpx.Fail(c, apperr.Internal("otp send failed", err))
		return
	}
	httpx.OK(c, gin.H{"message": "otp sent"})
}

func (s *Service) signupVerify(c *gin.Context) {
	var req signupVerifyReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	ok, err := s.OTP.Verify(c.Request.Context(), req.Email, otp.PurposeSignup, req.OTP)
	if err != nil || !ok {
		httpx.Fail(c, errInvalidOTP)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.Fail(c, apperr.Internal("password hashing failed", err))
		return
	}
	uid, err := s.Store.CreateUser(c.Request.Context(), req.Username, req.Email, hash)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	s.issue(c, uid)
}

func (s *Service) login(c *gin.Context) {
	var req loginReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	id, hash, err := s.Store.Credentials(c.Request.Context(), req.Username)
	if err != nil {
		httpx.Fail(c, errInvalidCredentials)
		return
	}
	if err := auth.CheckPassword(hash, req.Password); err != nil {
		httpx.Fail(c, errInvalidCredentials)
		return
	}
	s.issue(c, id)
}

func (s *Service) forgotInitiate(c *gin.Context) {
	var req forgotInitReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	if _, err := s.OTP.Generate(c.Request.Context(), req.Email, otp.PurposeReset); err != nil {
		httpx.Fail(c, apperr.Internal("otp send failed", err))
		return
	}
	httpx.OK(c, gin.H{"message": "otp sent"})
}

func (s *Service) resetPassword(c *gin.Context) {
	var req resetReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	ok, err := s.OTP.Verify(c.Request.Context(), req.Email, otp.PurposeReset, req.OTP)
	if err != nil || !ok {
		httpx.Fail(c, errInvalidOTP)
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		httpx.Fail(c, apperr.Internal("password hashing failed", err))
		return
	}
	if err := s.Store.SetPasswordByEmail(c.Request.Context(), req.Email, hash); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}
