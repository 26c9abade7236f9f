package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Activity is one journaled status event of a project (MongoDB)
type Activity struct {
	ID        primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	ProjectID string             `json:"projectId" bson:"project_id"`
	Event     string             `json:"event" bson:"event"`
	ActorID   string             `json:"actorId,omitempty" bson:"actor_id,omitempty"`
	ActorRole Role               `json:"actorRole,omitempty" bson:"actor_role,omitempty"`
	TargetID  string             `json:"targetId,omitempty" bson:"target_id,omitempty"` // annotation, element or review id
	Status    string             `json:"status,omitempty" bson:"status,omitempty"`
	Message   string             `json:"message,omitempty" bson:"message,omitempty"`
	CreatedAt time.Time          `json:"createdAt" bson:"created_at"`
}
