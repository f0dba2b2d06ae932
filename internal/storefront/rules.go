package storefront

import (
	"net/http"

	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
)

// pixelPNG 1x1 透明 PNG
const pixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

const stylesheet = "body{font-family:sans-serif}main{display:block}.product-item{display:inline-block}"

// PageRule 以 GET 文档方式提供页面
func PageRule(path, body string) rulespec.Rule {
	r := rulespec.HTML("**"+path, body).WithID("page:" + path)
	r.Methods = []string{http.MethodGet}
	return r
}

// FormRule 表单 POST 后返回的页面
func FormRule(path, body string) rulespec.Rule {
	r := rulespec.HTML("**"+path, body).WithID("form:" + path)
	r.Methods = []string{http.MethodPost}
	return r
}

// Assets 样式和图片
func Assets() []rulespec.Rule {
	return []rulespec.Rule{
		{
			ID:      "assets:css",
			Pattern: "**/assets/**",
			Respond: &rulespec.Respond{Status: 200, ContentType: "text/css; charset=utf-8", Body: stylesheet},
		},
		{
			ID:      "assets:images",
			Pattern: "**/images/**",
			Respond: &rulespec.Respond{Status: 200, ContentType: "image/png", Base64: pixelPNG},
		},
	}
}

// Pages 所有页面的缺省版本
func Pages() []rulespec.Rule {
	return []rulespec.Rule{
		PageRule("/", HomePage(Products())),
		PageRule("/shop", ShopPage(Products())),
		PageRule("/product/*", ProductPage(Stroller())),
		PageRule("/cart", CartPage([]CartItem{CartEntry(1)})),
		FormRule("/checkout", CheckoutPage("Full name is required", "Address is required", "Card number is required")),
		PageRule("/checkout", CheckoutPage()),
		FormRule("/login", LoginPage("Email is required", "Password is required")),
		PageRule("/login", LoginPage()),
		FormRule("/register", RegisterPage(
			"Username is required", "Email is required", "Password is required", "Confirm password is required")),
		PageRule("/register", RegisterPage()),
		PageRule("/admin/dashboard", AdminPage(Orders())),
	}
}

// ProductsAPI 商品列表接口
func ProductsAPI(products []Product) rulespec.Rule {
	return rulespec.JSON("**/api/products", 200, map[string]any{"products": products}, http.MethodGet).WithID("api:products")
}

// ProductAPI 商品详情接口
func ProductAPI(d ProductDetail) rulespec.Rule {
	return rulespec.JSON("**/api/products/*", 200, d.JSON(), http.MethodGet).WithID("api:product")
}

// CartAddAPI 加入购物车
func CartAddAPI(item CartItem) rulespec.Rule {
	return rulespec.JSON("**/cart/items", 200, item, http.MethodPost).WithID("api:cart-add")
}

// CartUpdateAPI 修改购物车条目数量
func CartUpdateAPI(item CartItem) rulespec.Rule {
	return rulespec.JSON("**/cart/items/*", 200, item, http.MethodPut).WithID("api:cart-update")
}

// CartRemoveAPI 删除购物车条目
func CartRemoveAPI() rulespec.Rule {
	return rulespec.RawJSON("**/cart/items/*", 200, `{"success":true}`, http.MethodDelete).WithID("api:cart-remove")
}

// CartListAPI 购物车内容
func CartListAPI(items []CartItem) rulespec.Rule {
	if items == nil {
		items = []CartItem{}
	}
	return rulespec.JSON("**/cart/items", 200, map[string]any{"items": items}, http.MethodGet).WithID("api:cart-list")
}

// CheckoutAPI 下单成功
func CheckoutAPI() rulespec.Rule {
	return rulespec.RawJSON("**/api/checkout", 200,
		`{"orderId":"12345","status":"success","message":"Order placed successfully"}`, http.MethodPost).WithID("api:checkout")
}

// RegisterAPI 注册成功
func RegisterAPI() rulespec.Rule {
	return rulespec.RawJSON("**/api/register", 200,
		`{"message":"Registration successful","userId":"12345"}`, http.MethodPost).WithID("api:register")
}

// LoginAPI 登录成功，同时覆盖 /api/login 和 /api/auth/login
func LoginAPI() rulespec.Rule {
	return rulespec.JSON("**/api/{login,auth/login}", 200, map[string]any{
		"token": "dummy_jwt_token",
		"user": map[string]any{
			"id":    "user-123",
			"email": "registereduser@example.com",
			"name":  "Registered User",
		},
	}, http.MethodPost).WithID("api:login")
}

// LoginFailureAPI 凭据错误
func LoginFailureAPI() rulespec.Rule {
	return rulespec.RawJSON("**/api/{login,auth/login}", 401,
		`{"error":"Invalid credentials","message":"The email or password provided is incorrect."}`, http.MethodPost).WithID("api:login-failure")
}

// AdminOrdersAPI 后台订单列表
func AdminOrdersAPI() rulespec.Rule {
	return rulespec.JSON("**/admin/orders", 200, map[string]any{"orders": Orders()}, http.MethodGet).WithID("api:admin-orders")
}

// AdminOrderUpdateAPI 更新订单状态，响应体基于第一个订单并用 patch 改写状态
func AdminOrderUpdateAPI(status string) rulespec.Rule {
	r := rulespec.JSON("**/admin/orders/*", 200, Orders()[0], http.MethodPut).WithID("api:admin-order-update")
	r.Respond.Patch = map[string]any{"status": status}
	return r
}

// AdminForbidden 非管理员访问后台
func AdminForbidden() rulespec.Rule {
	return rulespec.RawJSON("**/admin/**", 403, `{"error":"Access denied: admin only"}`).WithID("admin:forbidden")
}

// APIs 所有接口的缺省版本
func APIs() []rulespec.Rule {
	return []rulespec.Rule{
		ProductsAPI(Products()),
		ProductAPI(Stroller()),
		CartAddAPI(CartEntry(1)),
		CartUpdateAPI(CartEntry(3)),
		CartRemoveAPI(),
		CartListAPI([]CartItem{CartEntry(1)}),
		CheckoutAPI(),
		RegisterAPI(),
		LoginAPI(),
		AdminOrdersAPI(),
		AdminOrderUpdateAPI("completed"),
	}
}

// Rules 完整的店面规则集：接口、页面、静态资源和兜底规则
func Rules() []rulespec.Rule {
	return With()
}

// With 在缺省规则之前插入覆盖规则，先注册者优先；与覆盖规则同 ID 的缺省规则被移除
func With(overrides ...rulespec.Rule) []rulespec.Rule {
	seen := make(map[model.RuleID]bool, len(overrides))
	for _, r := range overrides {
		if r.ID != "" {
			seen[r.ID] = true
		}
	}
	out := make([]rulespec.Rule, 0, len(overrides)+32)
	out = append(out, overrides...)
	for _, group := range [][]rulespec.Rule{APIs(), Pages(), Assets(), {rulespec.CatchAll()}} {
		for _, r := range group {
			if !seen[r.ID] {
				out = append(out, r)
			}
		}
	}
	return out
}

// Fixtures 可导入存储的命名规则集
func Fixtures() []rulespec.Config {
	return []rulespec.Config{
		{Version: "1", Name: "storefront", Rules: Rules()},
		{Version: "1", Name: "admin-forbidden", Rules: With(AdminForbidden())},
		{Version: "1", Name: "login-failure", Rules: With(LoginFailureAPI())},
		{Version: "1", Name: "empty-cart", Rules: With(
			CartListAPI(nil),
			PageRule("/cart", CartPage(nil)),
		)},
	}
}
