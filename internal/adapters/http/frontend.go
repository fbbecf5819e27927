package http

import (
	"net/http"
)

// frontendHTML is the embedded dashboard. The exploration page shows the
// composite of one index and year on a map; the analysis page compares three
// years against the full series.
const frontendHTML = `<!DOCTYPE html>
<html lang="es">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Sistema de Análisis Landsat - Río Chili</title>
    <link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
    <style>
        :root {
            --primary: #1f6f3f;
            --primary-dark: #155230;
            --error: #dc2626;
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --text-muted: #64748b;
            --border: #e2e8f0;
            --radius: 8px;
            --shadow: 0 1px 3px rgba(0,0,0,0.1);
        }

        * { box-sizing: border-box; margin: 0; padding: 0; }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.5;
        }

        header {
            background: var(--primary);
            color: #fff;
            padding: 0.75rem 1rem;
            display: flex;
            align-items: center;
            justify-content: space-between;
            flex-wrap: wrap;
            gap: 0.5rem;
        }

        header h1 { font-size: 1.1rem; font-weight: 600; }

        nav button {
            background: transparent;
            border: 1px solid rgba(255,255,255,0.5);
            color: #fff;
            padding: 0.35rem 0.9rem;
            border-radius: var(--radius);
            cursor: pointer;
        }

        nav button.active { background: #fff; color: var(--primary); }

        main {
            display: grid;
            grid-template-columns: 1fr;
            gap: 1rem;
            padding: 1rem;
        }

        @media (min-width: 900px) {
            main { grid-template-columns: 320px 1fr; }
        }

        .card {
            background: var(--card);
            border: 1px solid var(--border);
            border-radius: var(--radius);
            box-shadow: var(--shadow);
            padding: 1rem;
        }

        .card h2 { font-size: 1rem; margin-bottom: 0.75rem; }

        label { display: block; font-size: 0.85rem; color: var(--text-muted); margin-top: 0.5rem; }

        select, input[type=range] { width: 100%; margin-top: 0.25rem; }

        select { padding: 0.35rem; border: 1px solid var(--border); border-radius: var(--radius); }

        #map { height: 70vh; border-radius: var(--radius); }

        table { width: 100%; border-collapse: collapse; font-size: 0.85rem; margin-top: 0.5rem; }
        th, td { padding: 0.3rem 0.4rem; border-bottom: 1px solid var(--border); text-align: right; }
        th:first-child, td:first-child { text-align: left; }

        .muted { color: var(--text-muted); font-size: 0.85rem; }
        .error { color: var(--error); font-size: 0.9rem; margin-top: 0.5rem; }
        .hidden { display: none; }

        #chart { width: 100%; border: 1px solid var(--border); border-radius: var(--radius); }

        .dot { display: inline-block; width: 0.7rem; height: 0.7rem; border-radius: 50%; margin-right: 0.3rem; }
    </style>
</head>
<body>
    <header>
        <h1>Sistema de Análisis Landsat - Río Chili</h1>
        <nav>
            <button id="tab-explore" class="active">Exploración</button>
            <button id="tab-analysis">Análisis</button>
        </nav>
    </header>

    <main id="page-explore">
        <section class="card">
            <h2>Parámetros</h2>
            <label for="index">Índice</label>
            <select id="index"></select>
            <label for="year">Año</label>
            <select id="year"></select>
            <label for="opacity">Opacidad <span id="opacity-value">0.8</span></label>
            <input id="opacity" type="range" min="0" max="1" step="0.05" value="0.8">
            <p id="index-title" class="muted" style="margin-top:0.75rem"></p>
            <p id="formula" class="muted"></p>

            <h2 style="margin-top:1rem">Estadísticas</h2>
            <table id="stats-table">
                <tr><th>Estadística</th><th>Valor</th></tr>
            </table>
            <p id="sensor" class="muted"></p>
            <p id="explore-error" class="error hidden"></p>
        </section>
        <section class="card">
            <div id="map"></div>
        </section>
    </main>

    <main id="page-analysis" class="hidden">
        <section class="card">
            <h2>Comparación</h2>
            <label for="a-index">Índice</label>
            <select id="a-index"></select>
            <label for="year-1">Año 1</label>
            <select id="year-1"></select>
            <label for="year-2">Año 2</label>
            <select id="year-2"></select>
            <label for="year-3">Año 3</label>
            <select id="year-3"></select>
            <table id="compare-table">
                <tr><th>Año</th><th>Media</th><th>Mín</th><th>Máx</th></tr>
            </table>
            <p id="analysis-error" class="error hidden"></p>
        </section>
        <section class="card">
            <h2>Serie temporal</h2>
            <img id="chart" alt="Serie temporal">
            <h2 style="margin-top:1rem">Periodos</h2>
            <table id="period-table">
                <tr><th>Periodo</th><th>n</th><th>Media</th><th>Mediana</th><th>Q1</th><th>Q3</th><th>Mín</th><th>Máx</th></tr>
            </table>
            <h2 style="margin-top:1rem">Anomalías</h2>
            <table id="anomaly-table">
                <tr><th>Año</th><th>Valor</th><th>Desviación</th><th>Clase</th></tr>
            </table>
        </section>
    </main>

    <script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
    <script>
        (function() {
            'use strict';

            const API = '/api/v1';
            const START = 2000, END = 2025;
            const DEFAULT_YEARS = [2023, 2020, 2017];
            const CLASS_LABELS = { strong: 'fuerte', moderate: 'moderada', weak: 'débil' };

            const $ = function(id) { return document.getElementById(id); };

            function fmt(v) {
                return v === null || v === undefined ? '—' : Number(v).toFixed(4);
            }

            function escapeHtml(s) {
                return String(s)
                    .replace(/&/g, '&amp;')
                    .replace(/</g, '&lt;')
                    .replace(/>/g, '&gt;')
                    .replace(/"/g, '&quot;')
                    .replace(/'/g, '&#39;');
            }

            async function getJSON(path) {
                const response = await fetch(API + path);
                const body = await response.json();
                if (!response.ok) {
                    throw new Error(body.message || response.statusText);
                }
                return body;
            }

            function showError(id, err) {
                const el = $(id);
                if (err) {
                    el.textContent = err.message;
                    el.classList.remove('hidden');
                } else {
                    el.classList.add('hidden');
                }
            }

            function fillYears(select, selected) {
                for (let y = END; y >= START; y--) {
                    const opt = document.createElement('option');
                    opt.value = y;
                    opt.textContent = y;
                    if (y === selected) opt.selected = true;
                    select.appendChild(opt);
                }
            }

            function resetTable(table) {
                while (table.rows.length > 1) table.deleteRow(1);
            }

            function addRow(table, cells) {
                const row = table.insertRow();
                cells.forEach(function(c) {
                    const cell = row.insertCell();
                    cell.innerHTML = c;
                });
            }

            // Exploration page
            const map = L.map('map').setView([-16.42, -71.54], 11);
            L.tileLayer('https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png', {
                attribution: '&copy; OpenStreetMap'
            }).addTo(map);

            let indexLayer = null;
            let indices = [];

            async function loadStudyArea() {
                try {
                    const area = await getJSON('/study-area');
                    map.setView(area.center, area.zoom);
                    if (area.outline) {
                        L.geoJSON(area.outline, {
                            style: { color: '#111', weight: 2, fill: false }
                        }).addTo(map);
                    }
                } catch (err) {
                    showError('explore-error', err);
                }
            }

            async function updateExplore() {
                const index = $('index').value;
                const year = $('year').value;
                const def = indices.find(function(d) { return d.name === index; });
                if (def) {
                    $('index-title').textContent = def.title;
                    $('formula').textContent = def.formula;
                }
                showError('explore-error', null);

                try {
                    const tiles = await getJSON('/indices/' + index + '/composite?year=' + year);
                    if (indexLayer) map.removeLayer(indexLayer);
                    indexLayer = L.tileLayer(tiles.url, {
                        opacity: parseFloat($('opacity').value),
                        attribution: tiles.attribution
                    }).addTo(map);
                    $('sensor').textContent = 'Sensor: ' + tiles.sensor;
                } catch (err) {
                    showError('explore-error', err);
                }

                try {
                    const result = await getJSON('/indices/' + index + '/stats?year=' + year);
                    const table = $('stats-table');
                    resetTable(table);
                    Object.keys(result.stats).sort().forEach(function(key) {
                        addRow(table, [escapeHtml(key), fmt(result.stats[key])]);
                    });
                } catch (err) {
                    showError('explore-error', err);
                }
            }

            // Analysis page
            async function updateAnalysis() {
                const index = $('a-index').value;
                const years = ['year-1', 'year-2', 'year-3'].map(function(id) { return $(id).value; });
                const query = '?years=' + years.join(',');
                showError('analysis-error', null);

                $('chart').src = API + '/indices/' + index + '/series.png' + query;

                try {
                    const compare = await getJSON('/indices/' + index + '/compare' + query);
                    const table = $('compare-table');
                    resetTable(table);
                    compare.results.forEach(function(r) {
                        const s = r.stats;
                        addRow(table, [r.year, fmt(s[index + '_mean']), fmt(s[index + '_min']), fmt(s[index + '_max'])]);
                    });

                    const analysis = await getJSON('/indices/' + index + '/analysis' + query);
                    const periods = $('period-table');
                    resetTable(periods);
                    analysis.periods.forEach(function(p) {
                        addRow(periods, [
                            '<span class="dot" style="background:' + escapeHtml(p.color) + '"></span>' + escapeHtml(p.label),
                            p.count, fmt(p.mean), fmt(p.median), fmt(p.q1), fmt(p.q3), fmt(p.min), fmt(p.max)
                        ]);
                    });

                    const anomalies = $('anomaly-table');
                    resetTable(anomalies);
                    analysis.anomalies.forEach(function(a) {
                        addRow(anomalies, [
                            '<span class="dot" style="background:' + escapeHtml(a.color) + '"></span>' + a.year,
                            fmt(a.value), fmt(a.deviation), CLASS_LABELS[a.class] || escapeHtml(a.class)
                        ]);
                    });
                } catch (err) {
                    showError('analysis-error', err);
                }
            }

            function showPage(name) {
                $('page-explore').classList.toggle('hidden', name !== 'explore');
                $('page-analysis').classList.toggle('hidden', name !== 'analysis');
                $('tab-explore').classList.toggle('active', name === 'explore');
                $('tab-analysis').classList.toggle('active', name === 'analysis');
                if (name === 'explore') {
                    map.invalidateSize();
                } else {
                    updateAnalysis();
                }
            }

            async function init() {
                fillYears($('year'), DEFAULT_YEARS[0]);
                ['year-1', 'year-2', 'year-3'].forEach(function(id, i) {
                    fillYears($(id), DEFAULT_YEARS[i]);
                    $(id).addEventListener('change', updateAnalysis);
                });

                try {
                    const body = await getJSON('/indices');
                    indices = body.indices;
                    indices.forEach(function(d) {
                        ['index', 'a-index'].forEach(function(id) {
                            const opt = document.createElement('option');
                            opt.value = d.name;
                            opt.textContent = d.name;
                            $(id).appendChild(opt);
                        });
                    });
                } catch (err) {
                    showError('explore-error', err);
                    return;
                }

                $('index').addEventListener('change', updateExplore);
                $('year').addEventListener('change', updateExplore);
                $('a-index').addEventListener('change', updateAnalysis);
                $('opacity').addEventListener('input', function() {
                    $('opacity-value').textContent = this.value;
                    if (indexLayer) indexLayer.setOpacity(parseFloat(this.value));
                });
                $('tab-explore').addEventListener('click', function() { showPage('explore'); });
                $('tab-analysis').addEventListener('click', function() { showPage('analysis'); });

                await loadStudyArea();
                await updateExplore();
            }

            init();
        })();
    </script>
</body>
</html>`

// handleFrontend serves the dashboard.
func (s *Server) handleFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(frontendHTML))
}
