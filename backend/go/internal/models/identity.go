package models

// Role 是已认证用户的角色。
type Role string

const (
	RoleAnonymous Role = ""
	RoleUser      Role = "user"
	RoleReviewer  Role = "reviewer"
	RoleAdmin     Role = "admin"
)

// rank 定义角色之间的包含关系：admin ⊇ reviewer ⊇ user。
func (r Role) rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleReviewer:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

// Valid 判断角色是否为已知的三种角色之一。
func (r Role) Valid() bool { return r.rank() > 0 }

// AtLeast 判断 r 是否拥有 min 的权限。
func (r Role) AtLeast(min Role) bool { return r.rank() >= min.rank() }

// Identity 是认证之后的调用方身份。
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Anonymous 判断是否为匿名调用方。
func (i Identity) Anonymous() bool { return i.UserID == "" }
