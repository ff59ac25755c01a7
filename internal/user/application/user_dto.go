package application

// CreateUserRequest son los datos de alta de un usuario.
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,min=2,max=50"`
	Email string `json:"email" validate:"required,useremail"`
	Age   *int   `json:"age,omitempty" validate:"omitempty,min=1,max=150"`
}

// UpdateUserRequest: email obligatorio; name y age solo se aplican si vienen.
type UpdateUserRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=2,max=50"`
	Email string  `json:"email" validate:"required,useremail"`
	Age   *int    `json:"age,omitempty" validate:"omitempty,min=1,max=150"`
}
