package routes

// Default returns the micropost API route table.
func Default() Table {
	return defaultTable
}

var defaultTable = MustTable(
	Definition{Name: "deleteMicropost", Method: MethodDelete, Path: "/v1/users/{user_id}/microposts/{micropost_id}"},
	Definition{Name: "deleteUser", Method: MethodDelete, Path: "/v1/users/{user_id}"},
	Definition{Name: "getMicropost", Method: MethodGet, Path: "/v1/users/{user_id}/microposts/{micropost_id}"},
	Definition{Name: "getMicroposts", Method: MethodGet, Path: "/v1/users/{user_id}/microposts"},
	Definition{Name: "getUser", Method: MethodGet, Path: "/v1/users/{user_id}"},
	Definition{Name: "getUsers", Method: MethodGet, Path: "/v1/users"},
	Definition{Name: "postMicroposts", Method: MethodPost, Path: "/v1/users/{user_id}/microposts"},
	Definition{Name: "postUsers", Method: MethodPost, Path: "/v1/users"},
	Definition{Name: "putMicropost", Method: MethodPut, Path: "/v1/users/{user_id}/microposts/{micropost_id}"},
	Definition{Name: "putUser", Method: MethodPut, Path: "/v1/users/{user_id}"},
)
