package agg

import (
	"strings"

	"github.com/hupe1980/olapcache/segment"
)

// target is one distinct request header and the result slots it fills.
type target struct {
	header  *segment.Header
	dialect string
	slots   []int
}

// batch is one covering fetch.
type batch struct {
	cover   *segment.Header
	dialect string
	members []*target
	load    *pending
}

func (b *batch) headers() []*segment.Header {
	hs := make([]*segment.Header, len(b.members))
	for i, t := range b.members {
		hs[i] = t.header
	}
	return hs
}

// groupKey separates targets that can never share a fetch.
func groupKey(t *target) string {
	h := t.header
	var sb strings.Builder
	sb.WriteString(familyOf(h))
	sb.WriteByte(0)
	sb.WriteString(t.dialect)
	sb.WriteByte(0)
	sb.WriteString(h.Fingerprint().String())
	sb.WriteByte(0)
	sb.WriteString(strings.Join(h.CompoundPredicates(), "\x01"))
	return sb.String()
}

// plan groups targets and merges each group greedily in request order.
func plan(reg *segment.Registry, policy MergePolicy, targets []*target) []*batch {
	var (
		order  []string
		groups = make(map[string][]*target)
	)
	for _, t := range targets {
		k := groupKey(t)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], t)
	}

	var batches []*batch
	for _, k := range order {
		var open []*batch
		for _, t := range groups[k] {
			merged := false
			for _, b := range open {
				members := append(b.headers(), t.header)
				cover, err := segment.Cover(reg, members...)
				if err != nil {
					continue
				}
				if policy.Accept(members, cover) {
					b.cover = cover
					b.members = append(b.members, t)
					merged = true
					break
				}
			}
			if !merged {
				open = append(open, &batch{cover: t.header, dialect: t.dialect, members: []*target{t}})
			}
		}
		batches = append(batches, open...)
	}
	return batches
}
