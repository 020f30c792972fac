package traffic

import (
	"context"
	"regexp"
	"strings"

	"github.com/arkilian/flowgraph/pkg/types"
)

var (
	productPath = regexp.MustCompile(`/products/(\d+)`)
	mobileAgent = regexp.MustCompile(`iPhone|Android`)
)

// Augment adds product_id, is_error, is_mobile, page_type and
// payload_size_kb to every raw log row.
func Augment(ctx context.Context, in types.Batch) (types.Batch, error) {
	out := make(types.Batch, 0, len(in))
	for i, row := range in {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out = append(out, augmentRow(row))
	}
	return out, nil
}

func augmentRow(row types.Row) types.Row {
	out := row.Clone()

	page, hasPage := row.Get("message.page")
	pageStr, _ := page.(string)
	if hasPage && page != nil {
		out["product_id"] = ProductID(pageStr)
		out["page_type"] = PageType(pageStr)
	} else {
		out["product_id"] = nil
		out["page_type"] = "other"
	}

	if status, ok := row.Get("message.status"); ok && status != nil {
		out["is_error"] = row.Int("message.status") >= 400
	} else {
		out["is_error"] = false
	}

	agent := row.String("message.user_agent")
	out["is_mobile"] = mobileAgent.MatchString(agent)

	if rt, ok := row.Get("message.response_time_ms"); ok && rt != nil {
		out["payload_size_kb"] = row.Int("message.response_time_ms") / 10
	} else {
		out["payload_size_kb"] = nil
	}
	return out
}

// ProductID extracts the numeric id of a /products/<id> page, or "".
func ProductID(page string) string {
	m := productPath.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	return m[1]
}

// PageType classifies a page path.
func PageType(page string) string {
	switch {
	case page == "/":
		return "home"
	case strings.HasPrefix(page, "/products"):
		return "product"
	case page == "/cart":
		return "cart"
	case page == "/checkout":
		return "checkout"
	}
	return "other"
}
