package rbac

import "memberportal/internal/models"

// Route is one entry of the static permission table. Listed roles get write
// access to the path and everything beneath it.
type Route struct {
	Path        string        `json:"path"`
	Roles       []models.Role `json:"roles"`
	Description string        `json:"description"`
}

var everyone = models.AllRoles

var DefaultRoutes = []Route{
	{Path: "/account", Roles: everyone, Description: "Own profile, password and MFA"},
	{Path: "/dashboard", Roles: everyone, Description: "Member dashboard"},
	{Path: "/directory", Roles: everyone, Description: "Member directory"},
	{Path: "/documents", Roles: everyone, Description: "Association documents"},
	{Path: "/meetings", Roles: everyone, Description: "Meeting calendar and minutes"},
	{Path: "/dues", Roles: everyone, Description: "Dues statements and payments"},
	{Path: "/arb/requests", Roles: everyone, Description: "Submit and track architectural review requests"},
	{Path: "/arb/review", Roles: []models.Role{models.RoleARB}, Description: "Architectural review committee queue"},
	{Path: "/board", Roles: []models.Role{models.RoleBoard}, Description: "Board workspace"},
	{Path: "/board/vendors", Roles: []models.Role{models.RoleBoard}, Description: "Vendor contracts"},
	{Path: "/admin", Roles: []models.Role{models.RoleAdmin}, Description: "Portal administration"},
}
