package storefront

import (
	"net/http"
	"strconv"

	"shopharness/internal/scenario"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
)

// AuditPaths 响应式和可访问性审计覆盖的页面
func AuditPaths() []string {
	return []string{"/", "/shop", "/product/1", "/cart", "/checkout", "/login", "/register", "/admin/dashboard"}
}

// Scenarios 内置场景目录
func Scenarios() []scenario.Scenario {
	return []scenario.Scenario{
		HomePageScenario(),
		ShopListingScenario(),
		ProductDetailScenario(),
		CartScenario(),
		CheckoutValidScenario(),
		CheckoutInvalidScenario(),
		RegisterHappyScenario(),
		RegisterValidationScenario(),
		LoginSuccessScenario(),
		LoginFailureScenario(),
		AdminDashboardScenario(),
		AdminOrdersScenario(),
		AdminForbiddenScenario(),
	}
}

// HomePageScenario 首页加载与渲染
func HomePageScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "home-page",
		Tags: []string{"browse"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: Rules()},
			scenario.Navigate{URL: "/"},
			scenario.AssertVisible{Selector: "header, [role='banner']"},
			scenario.AssertText{Selector: "h1", Expected: "Welcome to Stroller Chic"},
			scenario.AssertVisible{Selector: "a[role='button'].cta"},
			scenario.AssertVisible{Selector: "nav"},
			scenario.AssertVisible{Selector: "footer, [role='contentinfo']"},
			scenario.AssertCount{Selector: "img.hero-image", Count: 1},
			scenario.AssertAnyText{Selector: "section h2", Contains: "Featured Products"},
		},
	}
}

// ShopListingScenario 商品列表展示
func ShopListingScenario() scenario.Scenario {
	products := Products()
	steps := []scenario.Step{
		scenario.InstallRules{Rules: With(ProductsAPI(products), PageRule("/shop", ShopPage(products)))},
		scenario.Navigate{URL: "/shop"},
		scenario.WaitForSelector{Selector: "div[data-testid='product-list']"},
		scenario.AssertCount{Selector: ".product-item", Count: len(products)},
	}
	for i, p := range products {
		item := "div[data-testid='product-list'] > div.product-item:nth-of-type(" + strconv.Itoa(i+1) + ")"
		steps = append(steps,
			scenario.AssertText{Selector: item + " h2.product-name", Expected: p.Name},
			scenario.AssertText{Selector: item + " p.product-description", Expected: p.Description},
			scenario.AssertText{Selector: item + " span.product-price", Expected: p.Price},
			scenario.AssertAttribute{Selector: item + " img.product-image", Name: "src", Expected: p.ImageURL},
		)
	}
	steps = append(steps,
		scenario.Request{Method: http.MethodGet, URL: "/api/products"},
		scenario.AssertStatus{Code: 200},
		scenario.AssertJSON{Path: "products.#", Equals: len(products)},
	)
	return scenario.Scenario{Name: "shop-listing", Tags: []string{"browse"}, Steps: steps}
}

// ProductDetailScenario 商品详情展示
func ProductDetailScenario() scenario.Scenario {
	d := Stroller()
	steps := []scenario.Step{
		scenario.InstallRules{Rules: With(ProductAPI(d), PageRule("/product/*", ProductPage(d)))},
		scenario.Navigate{URL: "/product/" + d.ID, WaitUntil: model.WaitNetworkIdle},
		scenario.AssertVisible{Selector: "h1[data-testid='product-name']"},
		scenario.AssertText{Selector: "h1[data-testid='product-name']", Expected: d.Name},
		scenario.AssertCount{Selector: "img", Count: len(d.Images)},
	}
	for i, src := range d.Images {
		steps = append(steps, scenario.AssertAttribute{
			Selector: "div[data-testid='product-images'] img:nth-of-type(" + strconv.Itoa(i+1) + ")",
			Name:     "src",
			Expected: src,
		})
	}
	steps = append(steps, scenario.AssertText{Selector: "span[data-testid='product-price']", Expected: d.PriceText()})
	for _, s := range d.Specs {
		steps = append(steps, scenario.AssertText{
			Selector: "li[data-testid='spec-" + s.Key + "']",
			Expected: s.Display(),
			Contains: true,
		})
	}
	steps = append(steps,
		scenario.Request{Method: http.MethodGet, URL: "/api/products/" + d.ID},
		scenario.AssertJSON{Path: "images.1", Equals: d.Images[1]},
		scenario.AssertJSON{Path: "specifications.foldable", Equals: true},
	)
	return scenario.Scenario{Name: "product-detail", Tags: []string{"browse"}, Steps: steps}
}

// CartScenario 购物车增改删，每个阶段替换路由规则
func CartScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "cart-add-update-remove",
		Tags: []string{"cart"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: With(CartAddAPI(CartEntry(1)))},
			scenario.Request{Method: http.MethodPost, URL: "/cart/items", JSON: map[string]any{"productId": "prod567", "quantity": 1}},
			scenario.AssertStatus{Code: 200},
			scenario.AssertJSON{Path: "id", Equals: "item123"},
			scenario.AssertJSON{Path: "quantity", Equals: 1},

			scenario.InstallRules{Rules: With(CartUpdateAPI(CartEntry(3)))},
			scenario.Request{Method: http.MethodPut, URL: "/cart/items/item123", JSON: map[string]any{"quantity": 3}},
			scenario.AssertJSON{Path: "quantity", Equals: 3},

			scenario.InstallRules{Rules: With(CartRemoveAPI(), CartListAPI(nil), PageRule("/cart", CartPage(nil)))},
			scenario.Request{Method: http.MethodDelete, URL: "/cart/items/item123"},
			scenario.AssertJSON{Path: "success", Equals: true},
			scenario.Request{Method: http.MethodGet, URL: "/cart/items"},
			scenario.AssertJSON{Path: "items.#", Equals: 0},
			scenario.Navigate{URL: "/cart"},
			scenario.AssertCount{Selector: ".cart-item", Count: 0},
			scenario.AssertText{Selector: ".cart-empty", Expected: "Your cart is empty"},
		},
	}
}

// CheckoutValidScenario 下单接口
func CheckoutValidScenario() scenario.Scenario {
	payload := map[string]any{
		"payment": map[string]any{
			"cardNumber":     "4111111111111111",
			"expiryDate":     "12/26",
			"cvv":            "123",
			"cardHolderName": "Jane Doe",
		},
		"shipping": map[string]any{
			"fullName":     "Jane Doe",
			"addressLine1": "123 Luxury St",
			"city":         "Stylishtown",
			"postalCode":   "90210",
			"country":      "USA",
		},
		"cart": []map[string]any{
			{"productId": "stroller-001", "quantity": 1},
			{"productId": "stroller-002", "quantity": 2},
		},
	}
	return scenario.Scenario{
		Name: "checkout-valid",
		Tags: []string{"checkout"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: Rules()},
			scenario.Request{Method: http.MethodPost, URL: "/api/checkout", JSON: payload},
			scenario.AssertStatus{Code: 200},
			scenario.AssertJSON{Path: "orderId", Equals: "12345"},
			scenario.AssertJSON{Path: "status", Equals: "success"},
			scenario.AssertJSON{Path: "message", Equals: "Order placed successfully"},
		},
	}
}

// CheckoutInvalidScenario 空表单提交显示校验提示且停留在结算页
func CheckoutInvalidScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "checkout-invalid",
		Tags: []string{"checkout"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: Rules()},
			scenario.Navigate{URL: "/checkout"},
			scenario.AssertVisible{Selector: "button[type='submit']"},
			scenario.Click{Selector: "button[type='submit']"},
			scenario.AssertAnyText{Selector: ".error-region .field-error", Contains: "required"},
			scenario.AssertURL{Contains: "/checkout"},
		},
	}
}

// RegisterHappyScenario 注册接口
func RegisterHappyScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "register-happy-path",
		Tags: []string{"auth"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: Rules()},
			scenario.Request{Method: http.MethodPost, URL: "/api/register", JSON: map[string]any{
				"username":        "testuser",
				"email":           "testuser@example.com",
				"password":        "StrongPassw0rd!",
				"confirmPassword": "StrongPassw0rd!",
			}},
			scenario.AssertStatus{Code: 200},
			scenario.AssertJSON{Path: "message", Equals: "Registration successful"},
			scenario.AssertJSON{Path: "userId", Equals: "12345"},
		},
	}
}

// RegisterValidationScenario 注册表单校验，第二次提交前替换表单响应
func RegisterValidationScenario() scenario.Scenario {
	invalid := FormRule("/register", RegisterPage("Invalid email address", "Passwords do not match"))
	return scenario.Scenario{
		Name: "register-validation",
		Tags: []string{"auth"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: Rules()},
			scenario.Navigate{URL: "/register"},
			scenario.Click{Selector: "button[type=submit]"},
			scenario.AssertAnyText{Selector: ".field-error", Contains: "Username is required"},
			scenario.AssertAnyText{Selector: ".field-error", Contains: "Email is required"},
			scenario.AssertAnyText{Selector: ".field-error", Contains: "Password is required"},
			scenario.AssertAnyText{Selector: ".field-error", Contains: "Confirm password is required"},

			scenario.InstallRules{Rules: With(invalid)},
			scenario.Fill{Selector: "input[name='username']", Value: "testuser"},
			scenario.Fill{Selector: "input[name='email']", Value: "invalidemail"},
			scenario.Fill{Selector: "input[name='password']", Value: "password1"},
			scenario.Fill{Selector: "input[name='confirmPassword']", Value: "password2"},
			scenario.Click{Selector: "button[type=submit]"},
			scenario.AssertAnyText{Selector: ".field-error", Contains: "Invalid email address"},
			scenario.AssertAnyText{Selector: ".field-error", Contains: "Passwords do not match"},
		},
	}
}

// LoginSuccessScenario 登录成功
func LoginSuccessScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "login-success",
		Tags: []string{"auth"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: Rules()},
			scenario.Request{
				Method:  http.MethodPost,
				URL:     "/api/login",
				Headers: map[string]string{"Accept": rulespec.ContentTypeJSON},
				JSON:    map[string]any{"email": "registereduser@example.com", "password": "ValidPassword123!"},
			},
			scenario.AssertStatus{Code: 200},
			scenario.AssertJSON{Path: "token", Equals: "dummy_jwt_token"},
			scenario.AssertJSON{Path: "user.email", Equals: "registereduser@example.com"},
		},
	}
}

// LoginFailureScenario 凭据错误
func LoginFailureScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "login-failure",
		Tags: []string{"auth"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: With(LoginFailureAPI())},
			scenario.Request{
				Method: http.MethodPost,
				URL:    "/api/auth/login",
				JSON:   map[string]any{"email": "invaliduser@example.com", "password": "wrongpassword"},
			},
			scenario.AssertStatus{Code: 401},
			scenario.AssertJSON{Path: "error", Equals: "Invalid credentials"},
		},
	}
}

// AdminDashboardScenario 管理员访问后台
func AdminDashboardScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "admin-dashboard",
		Tags: []string{"admin"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: Rules()},
			scenario.Navigate{URL: "/admin/dashboard"},
			scenario.AssertText{Selector: "h1", Expected: "Admin Dashboard"},
			scenario.AssertVisible{Selector: "button.add-product"},
			scenario.AssertCount{Selector: ".admin-panel .order-row", Count: len(Orders())},
		},
	}
}

// AdminOrdersScenario 后台订单查询与状态更新
func AdminOrdersScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "admin-orders",
		Tags: []string{"admin"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: Rules()},
			scenario.Request{Method: http.MethodGet, URL: "/admin/orders"},
			scenario.AssertStatus{Code: 200},
			scenario.AssertJSON{Path: "orders.#", Equals: len(Orders())},
			scenario.AssertJSON{Path: "orders.0.id", Equals: "order123"},
			scenario.Request{Method: http.MethodPut, URL: "/admin/orders/order123", JSON: map[string]any{"status": "completed"}},
			scenario.AssertJSON{Path: "id", Equals: "order123"},
			scenario.AssertJSON{Path: "status", Equals: "completed"},
		},
	}
}

// AdminForbiddenScenario 非管理员会话访问后台被拒绝，且不渲染特权内容
func AdminForbiddenScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "admin-forbidden",
		Tags: []string{"admin"},
		Steps: []scenario.Step{
			scenario.InstallRules{Rules: With(AdminForbidden())},
			scenario.Request{Method: http.MethodGet, URL: "/admin/dashboard"},
			scenario.AssertStatus{Code: 403},
			scenario.AssertJSON{Path: "error", Equals: "Access denied: admin only"},
			scenario.Navigate{URL: "/admin/dashboard"},
			scenario.AssertCount{Selector: ".admin-panel", Count: 0},
			scenario.AssertAnyText{Selector: "body", Contains: "Access denied"},
		},
	}
}
