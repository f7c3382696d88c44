package controllers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/utils/clock"

	"request-routing-api/middleware"
	"request-routing-api/models"
	"request-routing-api/services"
	"request-routing-api/utils"
	"request-routing-api/workflow"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token   string      `json:"token"`
	User    models.User `json:"user"`
	Message string      `json:"message"`
}

type AuthController struct {
	users  services.UserDirectory
	secret string
	ttl    time.Duration
	clock  clock.PassiveClock
}

func NewAuthController(users services.UserDirectory, secret string, ttl time.Duration, clk clock.PassiveClock) *AuthController {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &AuthController{users: users, secret: secret, ttl: ttl, clock: clk}
}

// Login handles user authentication
func (ac *AuthController) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := ac.users.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, services.ErrUserNotFound) {
			log.Printf("[auth] login lookup failed: %v", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if !utils.CheckPasswordHash(req.Password, user.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := middleware.IssueToken(ac.secret, user, ac.ttl, ac.clock.Now())
	if err != nil {
		log.Printf("[auth] token signing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:   token,
		User:    user,
		Message: "Login successful",
	})
}

// GetProfile returns current user profile
func (ac *AuthController) GetProfile(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	user, err := ac.users.User(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":       user,
		"role_label": user.RoleCode.Label(),
	})
}

type roleView struct {
	Code         workflow.Role `json:"code"`
	Label        string        `json:"label"`
	Intake       bool          `json:"intake"`
	Terminal     bool          `json:"terminal"`
	Intermediate bool          `json:"intermediate"`
	CanOriginate bool          `json:"can_originate"`
}

// ListRoles returns the role registry in display order.
func ListRoles(c *gin.Context) {
	roles := workflow.Roles()
	out := make([]roleView, 0, len(roles))
	for _, r := range roles {
		out = append(out, roleView{
			Code:         r,
			Label:        r.Label(),
			Intake:       r.IsIntake(),
			Terminal:     r.IsTerminal(),
			Intermediate: r.IsIntermediate(),
			CanOriginate: r.CanOriginate(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"roles": out})
}
