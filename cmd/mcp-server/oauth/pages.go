package oauth

const pageTemplates = `
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>Authorize access</title>
  <style>
    body { font-family: Arial, sans-serif; background:#0f172a; color:#e2e8f0; display:flex; align-items:center; justify-content:center; min-height:100vh; margin:0; }
    .card { background:#111827; border:1px solid #1f2937; padding:32px; border-radius:12px; width:360px; }
    h1 { margin:0 0 12px; font-size:22px; }
    p { margin:0 0 18px; color:#94a3b8; }
    label { display:block; margin:12px 0 4px; font-size:14px; }
    input[type=text], input[type=password] { width:100%; box-sizing:border-box; padding:8px; border-radius:6px; border:1px solid #334155; background:#0f172a; color:#e2e8f0; }
    .actions { display:flex; gap:8px; margin-top:20px; }
    button { flex:1; padding:10px; border-radius:6px; border:0; cursor:pointer; }
    .approve { background:#2563eb; color:#fff; }
    .deny { background:#334155; color:#e2e8f0; }
    .error { color:#f87171; font-size:14px; }
  </style>
</head>
<body>
  <div class="card">
{{end}}

{{define "foot"}}  </div>
</body>
</html>
{{end}}

{{define "consent"}}{{template "head"}}
    <h1>Authorize {{.Request.ClientName}}</h1>
    <p>{{.Request.ClientName}} is requesting access to your tasks, notes and projects.</p>
    {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
    <form method="POST" action="/oauth/authorize">
      <input type="hidden" name="response_type" value="code" />
      <input type="hidden" name="client_id" value="{{.Request.ClientID}}" />
      <input type="hidden" name="redirect_uri" value="{{.Request.RedirectURI}}" />
      <input type="hidden" name="state" value="{{.Request.State}}" />
      <label for="username">Username</label>
      <input type="text" id="username" name="username" value="{{.Username}}" autocomplete="username" />
      <label for="password">Password</label>
      <input type="password" id="password" name="password" autocomplete="current-password" />
      <div class="actions">
        <button class="approve" type="submit" name="action" value="approve">Sign in and allow</button>
        <button class="deny" type="submit" name="action" value="deny">Deny</button>
      </div>
    </form>
{{template "foot"}}{{end}}

{{define "error"}}{{template "head"}}
    <h1>Authorization failed</h1>
    <p class="error">{{.Message}}</p>
{{template "foot"}}{{end}}
`
