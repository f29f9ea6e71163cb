package web

import "html/template"

// The console's own chrome is deliberately small: the real management UI is
// the single-page application this service fronts. These views cover the
// public landing page, the authenticated page shells, and the two terminal
// states sign-in can leave a user in (callback failure, access denied).

var landingTmpl = template.Must(template.New("landing").Parse(`<!doctype html>
<html>
<head><title>Castellan Console</title></head>
<body>
<h1>Castellan Console</h1>
<p>Administration console for the Castellan identity platform.</p>
<p><a href="/auth/signin?return_to=/dashboard">Sign in</a></p>
</body>
</html>
`))

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head><title>{{.Title}} — Castellan Console</title></head>
<body>
<header>
<strong>Castellan Console</strong> — {{.Title}}
<span>signed in as {{.Name}} ({{.Email}}){{if .Roles}} [{{range $i, $r := .Roles}}{{if $i}}, {{end}}{{$r}}{{end}}]{{end}}</span>
<a href="/auth/signout">Sign out</a>
</header>
<nav>
<a href="/dashboard">Dashboard</a>
<a href="/applications">Applications</a>
<a href="/scopes">Scopes</a>
<a href="/users">Users</a>
<a href="/tenants">Tenants</a>
<a href="/profile">Profile</a>
</nav>
<main id="app" data-section="{{.Section}}"></main>
</body>
</html>
`))

var profileTmpl = template.Must(template.New("profile").Parse(`<!doctype html>
<html>
<head><title>Profile — Castellan Console</title></head>
<body>
<header>
<strong>Castellan Console</strong> — Profile
<a href="/auth/signout">Sign out</a>
</header>
<main>
<h1>{{.Name}}</h1>
<dl>
<dt>Subject</dt><dd>{{.Subject}}</dd>
<dt>Email</dt><dd>{{.Email}}</dd>
<dt>Roles</dt><dd>{{if .Roles}}{{range $i, $r := .Roles}}{{if $i}}, {{end}}{{$r}}{{end}}{{else}}none{{end}}</dd>
<dt>Session expires</dt><dd>{{.Expiry}}</dd>
</dl>
{{if .TokenClaims}}
<h2>Access token claims</h2>
<dl>
{{range $k, $v := .TokenClaims}}<dt>{{$k}}</dt><dd>{{$v}}</dd>
{{end}}
</dl>
{{end}}
</main>
</body>
</html>
`))

var signInErrorTmpl = template.Must(template.New("signin-error").Parse(`<!doctype html>
<html>
<head><title>Sign-in failed — Castellan Console</title></head>
<body>
<h1>Sign-in failed</h1>
<p>{{.Message}}</p>
{{if .Description}}<p>{{.Description}}</p>{{end}}
<p><a href="/">Return to the console</a> and sign in again.</p>
</body>
</html>
`))

var deniedTmpl = template.Must(template.New("denied").Parse(`<!doctype html>
<html>
<head><title>Access denied — Castellan Console</title></head>
<body>
<h1>Access denied</h1>
<p>Your account does not have the role required for this page.</p>
<p><a href="/dashboard">Back to the dashboard</a></p>
</body>
</html>
`))
