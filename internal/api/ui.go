package api

import (
	"html/template"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ytmusicdl/internal/extractor"
	"ytmusicdl/internal/job"
)

var uiTemplates = template.Must(template.New("layout").Funcs(template.FuncMap{
	"status":  job.StatusOf,
	"percent": formatPercent,
}).Parse(`{{define "head"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Refresh}}<meta http-equiv="refresh" content="2"/>{{end}}
  <title>ytmusicdl</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    input[type=text],select{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .list{margin:0;padding-left:18px}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .bar{height:8px;background:#efefef;border-radius:4px;overflow:hidden}
    .bar span{display:block;height:100%;background:#0b63e5}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">ytmusicdl</a></h1>
    <div class="muted">Audio downloads without JavaScript</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
{{end}}

{{define "foot"}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}
  {{template "head" .}}
  <div class="card">
    <h2>New download</h2>
    <form method="post" action="/ui/jobs">
      <div class="row">
        <input type="text" name="url" placeholder="https://www.youtube.com/watch?v=..." required />
        <input type="text" name="directory" placeholder="Save to (default: {{.DefaultDir}})" />
        <select name="quality">
          {{range .Qualities}}<option value="{{.}}">{{.Label}}</option>{{end}}
        </select>
        <button class="btn" type="submit">Download</button>
      </div>
    </form>
    <div class="muted">POST /api/v1/jobs</div>
  </div>

  <div class="card">
    <h2>Open existing job</h2>
    <form method="get" action="/ui/jobs">
      <div class="row">
        <input type="text" name="id" placeholder="Job ID" required />
        <button class="btn secondary" type="submit">Open</button>
      </div>
    </form>
  </div>

  <div class="card">
    <h2>Recent jobs</h2>
    {{if .Jobs}}
    <ul class="list">
      {{range .Jobs}}
      <li><a class="mono" href="/ui/jobs/{{.ID}}">{{.ID}}</a> <span class="status">{{status .State}}</span> <span class="muted">{{.Request.SourceURL}}</span></li>
      {{end}}
    </ul>
    {{else}}
    <div class="muted">No jobs yet</div>
    {{end}}
  </div>
  {{template "foot" .}}
{{end}}

{{define "job"}}
  {{template "head" .}}
  <div class="card">
    <h2>Job <span class="mono">{{.Job.ID}}</span></h2>
    <div>Source: <span class="mono">{{.Job.Request.SourceURL}}</span></div>
    <div>Status: <span class="status">{{status .Job.State}}</span>{{if .Job.Reason}} <span class="muted">({{.Job.Reason}})</span>{{end}}</div>
    <div style="margin:8px 0"><div class="bar"><span style="width:{{percent .Job.Progress}}%"></span></div></div>
    <div class="muted">{{percent .Job.Progress}}%{{if .Job.Speed}} · {{.Job.Speed}}{{end}}{{if .Job.ETA}} · ETA {{.Job.ETA}}{{end}}</div>
    {{if .Job.ResultPath}}<div>Saved to: <span class="mono">{{.Job.ResultPath}}</span></div>{{end}}
    <div class="muted">Created at: {{.Job.CreatedAt}}</div>
  </div>
  {{if not .Job.State.Terminal}}
  <div class="card">
    <form method="post" action="/ui/jobs/{{.Job.ID}}/cancel">
      <button class="btn secondary" type="submit">Cancel</button>
      <a class="btn" href="/ui/jobs/{{.Job.ID}}" style="margin-left:8px">Refresh</a>
    </form>
    <div class="muted">Live updates: GET /api/v1/jobs/{{.Job.ID}}/events</div>
  </div>
  {{end}}
  {{template "foot" .}}
{{end}}
`))

var uiQualities = []extractor.Quality{extractor.QualityHigh, extractor.QualityMedium, extractor.QualityLossless}

const recentJobsOnHome = 20

func formatPercent(p float64) string {
	return strconv.FormatFloat(math.Round(p*10)/10, 'f', -1, 64)
}

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.GET("/ui/jobs", a.UIOpenExisting)
	router.POST("/ui/jobs", a.UICreateJob)
	router.GET("/ui/jobs/:id", a.UIJob)
	router.POST("/ui/jobs/:id/cancel", a.UICancelJob)
}

func (a *API) homeData(errMsg string) gin.H {
	jobs := a.jobs.List()
	// newest first
	recent := make([]job.Job, 0, recentJobsOnHome)
	for i := len(jobs) - 1; i >= 0 && len(recent) < recentJobsOnHome; i-- {
		recent = append(recent, jobs[i])
	}
	return gin.H{
		"Error":      errMsg,
		"Jobs":       recent,
		"Qualities":  uiQualities,
		"DefaultDir": a.jobs.DefaultDir(),
	}
}

// UIHome renders the home page
func (a *API) UIHome(c *gin.Context) { c.HTML(http.StatusOK, "home", a.homeData("")) }

// UIOpenExisting redirects to the job page by id
func (a *API) UIOpenExisting(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, "/ui/jobs/"+id)
}

// UICreateJob submits the form and redirects to the job page
func (a *API) UICreateJob(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBind(&req); err != nil {
		c.HTML(http.StatusBadRequest, "home", a.homeData("invalid form"))
		return
	}
	jobID, err := a.jobs.Submit(job.Request{
		SourceURL: req.URL,
		Directory: req.Directory,
		Quality:   extractor.Quality(req.Quality),
	})
	if err != nil {
		c.HTML(statusFor(err), "home", a.homeData(err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/ui/jobs/"+jobID)
}

// UIJob renders a job page; unfinished jobs refresh themselves
func (a *API) UIJob(c *gin.Context) {
	id := c.Param("id")
	if j, ok := a.jobs.Get(id); ok {
		c.HTML(http.StatusOK, "job", gin.H{"Job": j, "Refresh": !j.State.Terminal()})
		return
	}
	c.HTML(http.StatusNotFound, "home", a.homeData("job not found"))
}

// UICancelJob cancels and redirects back to the job page
func (a *API) UICancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := a.jobs.Cancel(id); err != nil {
		if j, ok := a.jobs.Get(id); ok {
			c.HTML(statusFor(err), "job", gin.H{"Job": j, "Error": err.Error()})
			return
		}
		c.HTML(statusFor(err), "home", a.homeData(err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/ui/jobs/"+id)
}
