package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEntityKind = errors.New("unknown entity kind")
	ErrUnknownAttribute  = errors.New("unknown attribute")
	ErrNotLikeable       = errors.New("entity kind is not likeable")
)

// EntityKind 计数/点赞目标的封闭类型集合
type EntityKind string

const (
	KindItem    EntityKind = "item"
	KindComment EntityKind = "comment"
	KindUser    EntityKind = "user"
)

// 计数属性名，同时也是冗余列名
const (
	AttrLikesCount      = "likes_count"
	AttrCommentsCount   = "comments_count"
	AttrFollowersCount  = "followers_count"
	AttrFollowingsCount = "followings_count"
)

type entityDef struct {
	table      string
	likeable   bool
	attributes map[string]struct{}
}

// kinds 类型 -> 存储访问表的映射
var kinds = map[EntityKind]entityDef{
	KindItem: {
		table:      Item{}.TableName(),
		likeable:   true,
		attributes: set(AttrLikesCount, AttrCommentsCount),
	},
	KindComment: {
		table:      Comment{}.TableName(),
		likeable:   true,
		attributes: set(AttrLikesCount),
	},
	KindUser: {
		table:      User{}.TableName(),
		attributes: set(AttrFollowersCount, AttrFollowingsCount),
	},
}

func set(attrs ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(attrs))
	for _, a := range attrs {
		m[a] = struct{}{}
	}
	return m
}

func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(s)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityKind, s)
	}
	return k, nil
}

func (k EntityKind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Table 返回实体所在表
func (k EntityKind) Table() (string, error) {
	def, ok := kinds[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityKind, string(k))
	}
	return def.table, nil
}

// Column 校验属性并返回列名；属性名不会拼进 SQL 之外的任何地方
func (k EntityKind) Column(attr string) (string, error) {
	def, ok := kinds[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityKind, string(k))
	}
	if _, ok := def.attributes[attr]; !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, k, attr)
	}
	return attr, nil
}

func (k EntityKind) Likeable() bool { return kinds[k].likeable }

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&User{}, &Item{}, &Follow{}, &Fan{}, &FeedEntry{}, &Fanout{}, &Like{}, &Comment{},
	}
}
