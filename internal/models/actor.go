package models

import "github.com/golang-jwt/jwt/v4"

// Role separates the two sides of a review
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Actor is whoever performs a request or owns a websocket session
type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	ProjectID string `json:"projectId,omitempty"` // set for share-link actors
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccessProject reports whether the actor may see the given project.
// Admins see every project, share-link clients only their own.
func (a Actor) CanAccessProject(projectID string) bool {
	if a.IsAdmin() {
		return true
	}
	return a.ProjectID != "" && a.ProjectID == projectID
}

// JwtCustomClaims are custom claims extending standard jwt.RegisteredClaims
type JwtCustomClaims struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	ProjectID string `json:"project_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor returns the actor the claims describe. Tokens without a role belong to studio staff.
func (c *JwtCustomClaims) Actor() Actor {
	role := c.Role
	if role == "" {
		role = RoleAdmin
	}
	return Actor{ID: c.UserID, Name: c.Name, Role: role, ProjectID: c.ProjectID}
}
