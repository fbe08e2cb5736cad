package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studyroom-bot/internal/domain"
)

func sAttr(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func nAttr(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func timeAttr(t time.Time) types.AttributeValue {
	return sAttr(sortableTime(t))
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// optStrAttr returns "" for a missing attribute but rejects a wrong type.
func optStrAttr(item map[string]types.AttributeValue, key string) (string, error) {
	if _, ok := item[key]; !ok {
		return "", nil
	}
	return strAttr(item, key)
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	n, err := int64Attr(item, key)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func optInt64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	if _, ok := item[key]; !ok {
		return 0, nil
	}
	return int64Attr(item, key)
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a boolean", key)
	}
	return b.Value, nil
}

func createdAttr(item map[string]types.AttributeValue) (time.Time, error) {
	s, err := strAttr(item, "created_at")
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", "created_at", err)
	}
	return t.UTC(), nil
}

// stringSetAttr reads an SS attribute. DynamoDB removes empty sets, so a
// missing attribute is an empty set.
func stringSetAttr(item map[string]types.AttributeValue, key string) ([]string, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	ss, ok := v.(*types.AttributeValueMemberSS)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a string set", key)
	}
	return append([]string(nil), ss.Value...), nil
}

func numberSetAttr(item map[string]types.AttributeValue, key string) ([]int64, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	ns, ok := v.(*types.AttributeValueMemberNS)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a number set", key)
	}
	out := make([]int64, 0, len(ns.Value))
	for _, raw := range ns.Value {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("repository: parse attribute %q: %w", key, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func invalid(kind string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrInvalidRecord, kind, err)
}

func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	var (
		u   domain.User
		err error
	)
	if u.UserID, err = int64Attr(item, "user_id"); err != nil {
		return domain.User{}, invalid("user", err)
	}
	if u.Username, err = optStrAttr(item, "username"); err != nil {
		return domain.User{}, invalid("user", err)
	}
	if u.FirstName, err = optStrAttr(item, "first_name"); err != nil {
		return domain.User{}, invalid("user", err)
	}
	if u.CurrentRoomCode, err = optStrAttr(item, "current_room_code"); err != nil {
		return domain.User{}, invalid("user", err)
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.User{}, invalid("user", err)
	}
	if u.Role, err = domain.ParseRole(role); err != nil {
		return domain.User{}, invalid("user", err)
	}
	if u.CreatedAt, err = createdAttr(item); err != nil {
		return domain.User{}, invalid("user", err)
	}
	return u, nil
}

func itemToRoom(item map[string]types.AttributeValue) (domain.Room, error) {
	var (
		r   domain.Room
		err error
	)
	if r.Code, err = strAttr(item, "code"); err != nil {
		return domain.Room{}, invalid("room", err)
	}
	if !domain.ValidRoomCode(r.Code) {
		return domain.Room{}, invalid("room", fmt.Errorf("malformed code %q", r.Code))
	}
	if r.Name, err = strAttr(item, "name"); err != nil {
		return domain.Room{}, invalid("room", err)
	}
	if r.Description, err = optStrAttr(item, "description"); err != nil {
		return domain.Room{}, invalid("room", err)
	}
	if r.OwnerID, err = int64Attr(item, "owner_id"); err != nil {
		return domain.Room{}, invalid("room", err)
	}
	if r.Members, err = numberSetAttr(item, "members"); err != nil {
		return domain.Room{}, invalid("room", err)
	}
	if r.LinkedChannelID, err = optInt64Attr(item, "linked_channel_id"); err != nil {
		return domain.Room{}, invalid("room", err)
	}
	if r.Active, err = boolAttr(item, "is_active"); err != nil {
		return domain.Room{}, invalid("room", err)
	}
	if r.CreatedAt, err = createdAttr(item); err != nil {
		return domain.Room{}, invalid("room", err)
	}
	return r, nil
}

func itemToFile(item map[string]types.AttributeValue) (domain.File, error) {
	var (
		f   domain.File
		err error
	)
	if f.ID, err = strAttr(item, "id"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	if f.FileID, err = strAttr(item, "file_ref"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	kind, err := strAttr(item, "kind")
	if err != nil {
		return domain.File{}, invalid("file", err)
	}
	switch domain.FileKind(kind) {
	case domain.FileKindDocument, domain.FileKindPhoto:
		f.Kind = domain.FileKind(kind)
	default:
		return domain.File{}, invalid("file", fmt.Errorf("unknown kind %q", kind))
	}
	if f.DisplayName, err = optStrAttr(item, "display_name"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	if f.Caption, err = optStrAttr(item, "caption"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	if f.UploaderID, err = int64Attr(item, "uploader_id"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	if f.RoomCode, err = strAttr(item, "room_code"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	if f.ChatID, err = int64Attr(item, "chat_id"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	if f.MessageID, err = int64Attr(item, "message_id"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	if f.Tags, err = stringSetAttr(item, "tags"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	if f.AITags, err = stringSetAttr(item, "ai_tags"); err != nil {
		return domain.File{}, invalid("file", err)
	}
	if f.CreatedAt, err = createdAttr(item); err != nil {
		return domain.File{}, invalid("file", err)
	}
	return f, nil
}

func itemToUsage(item map[string]types.AttributeValue) (domain.UsageCounter, error) {
	var (
		u   domain.UsageCounter
		err error
	)
	if u.UserID, err = int64Attr(item, "user_id"); err != nil {
		return domain.UsageCounter{}, invalid("usage", err)
	}
	if u.Date, err = strAttr(item, "usage_date"); err != nil {
		return domain.UsageCounter{}, invalid("usage", err)
	}
	if u.Count, err = intAttr(item, "count"); err != nil {
		return domain.UsageCounter{}, invalid("usage", err)
	}
	if u.Count < 0 {
		return domain.UsageCounter{}, invalid("usage", fmt.Errorf("negative count %d", u.Count))
	}
	if u.LastCommand, err = optStrAttr(item, "last_command"); err != nil {
		return domain.UsageCounter{}, invalid("usage", err)
	}
	return u, nil
}
