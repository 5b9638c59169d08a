package model

import "time"

const day = 24 * time.Hour

type RecencyGroups struct {
	Today          []Conversation
	Yesterday      []Conversation
	Previous7Days  []Conversation
	Previous30Days []Conversation
	Older          []Conversation
}

type RecencyBucket struct {
	Label         string
	Conversations []Conversation
}

// GroupByRecency partitions conversations by UpdatedAt. Today and Yesterday
// use calendar days in now's location, the other windows count back from now.
// Input order is kept inside each group.
func GroupByRecency(conversations []Conversation, now time.Time) RecencyGroups {
	todayMidnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterdayMidnight := todayMidnight.AddDate(0, 0, -1)
	sevenDaysAgo := now.Add(-7 * day)
	thirtyDaysAgo := now.Add(-30 * day)

	var groups RecencyGroups
	for _, c := range conversations {
		updatedAt := c.UpdatedAt
		switch {
		case !updatedAt.Before(todayMidnight):
			groups.Today = append(groups.Today, c)
		case !updatedAt.Before(yesterdayMidnight):
			groups.Yesterday = append(groups.Yesterday, c)
		case !updatedAt.Before(sevenDaysAgo):
			groups.Previous7Days = append(groups.Previous7Days, c)
		case !updatedAt.Before(thirtyDaysAgo):
			groups.Previous30Days = append(groups.Previous30Days, c)
		default:
			groups.Older = append(groups.Older, c)
		}
	}
	return groups
}

// Buckets lists the groups newest first, empty ones included.
func (g RecencyGroups) Buckets() []RecencyBucket {
	return []RecencyBucket{
		{Label: "Today", Conversations: g.Today},
		{Label: "Yesterday", Conversations: g.Yesterday},
		{Label: "Previous 7 days", Conversations: g.Previous7Days},
		{Label: "Previous 30 days", Conversations: g.Previous30Days},
		{Label: "Older", Conversations: g.Older},
	}
}

func (g RecencyGroups) Len() int {
	return len(g.Today) + len(g.Yesterday) + len(g.Previous7Days) + len(g.Previous30Days) + len(g.Older)
}
