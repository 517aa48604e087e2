package shardbench

import (
	"fmt"
	"time"
)

// Cities is the fixed set a user's city is drawn from
var Cities = []string{"Hanoi", "Ho Chi Minh City", "Da Nang", "Hai Phong", "Can Tho"}

const (
	MinAge = 18
	MaxAge = 70
)

// User is a single generated record, ID is the partition key and never changes once assigned
type User struct {
	ID        int64     `json:"id" msgpack:"id"`
	Name      string    `json:"name" msgpack:"name"`
	Email     string    `json:"email" msgpack:"email"`
	Age       int       `json:"age" msgpack:"age"`
	City      string    `json:"city" msgpack:"city"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// Values returns the column values in the order of store.UserColumns
func (u *User) Values() []interface{} {
	return []interface{}{u.ID, u.Name, u.Email, u.Age, u.City, u.CreatedAt}
}

func (u *User) String() string {
	return fmt.Sprintf("User(%d: %s, %s, %d, %s, %s)", u.ID, u.Name, u.Email, u.Age, u.City, u.CreatedAt.Format(time.RFC3339))
}

// IDs returns the ids of users in order
func IDs(users []User) []int64 {
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}
