package dto

// CreateUserRequest payload for registering an account.
type CreateUserRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8"`
	FirstName  string `json:"first_name" validate:"required,max=120"`
	LastName   string `json:"last_name" validate:"required,max=120"`
	Role       string `json:"role" validate:"required,user_role"`
	Department string `json:"department" validate:"max=120"`
}

// UpdateUserRequest payload for editing an account.
type UpdateUserRequest struct {
	Email      string `json:"email" validate:"required,email"`
	FirstName  string `json:"first_name" validate:"required,max=120"`
	LastName   string `json:"last_name" validate:"required,max=120"`
	Role       string `json:"role" validate:"required,user_role"`
	Department string `json:"department" validate:"max=120"`
	Active     *bool  `json:"active"`
}
