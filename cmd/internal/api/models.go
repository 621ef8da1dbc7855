package api

import "time"

type registerRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"display_name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

type createRecipientRequest struct {
	LinkedUserID *string `json:"linked_user_id,omitempty"`
	Email        *string `json:"email,omitempty"`
	DisplayName  *string `json:"display_name,omitempty"`
}

type recipientResponse struct {
	ID           string    `json:"id"`
	LinkedUserID *string   `json:"linked_user_id,omitempty"`
	Email        *string   `json:"email,omitempty"`
	DisplayName  *string   `json:"display_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type createLetterRequest struct {
	RecipientID        string     `json:"recipient_id"`
	Body               string     `json:"body"`
	BodyRich           *string    `json:"body_rich,omitempty"`
	IsAnonymous        bool       `json:"is_anonymous"`
	RevealDelaySeconds *int64     `json:"reveal_delay_seconds,omitempty"`
	AttachmentKey      *string    `json:"attachment_key,omitempty"`
	UnlocksAt          time.Time  `json:"unlocks_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

type presignResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}
