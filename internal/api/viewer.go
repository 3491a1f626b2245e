package api

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>EmotionStreamer</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #111;
            color: #ddd;
            font-family: system-ui, -apple-system, sans-serif;
            display: flex;
            flex-direction: column;
            align-items: center;
            min-height: 100vh;
        }
        img {
            max-width: 100vw;
            max-height: 80vh;
            object-fit: contain;
            background: #000;
        }
        .bar {
            display: flex;
            gap: 8px;
            padding: 12px;
            align-items: center;
        }
        button {
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            border: none;
            border-radius: 20px;
            cursor: pointer;
        }
        button:hover { background: rgba(60, 60, 60, 0.95); color: #fff; }
        #status { font-size: 13px; color: #999; }
        #error { font-size: 13px; color: #ff4136; }
        #faces { list-style: none; font-size: 14px; }
    </style>
</head>
<body>
    <img src="/stream" alt="EmotionStreamer preview">
    <div class="bar">
        <button onclick="post('/api/stream/start')">Start</button>
        <button onclick="post('/api/stream/stop')">Stop</button>
        <button onclick="flip()">Switch camera</button>
        <span id="status">Not connected</span>
    </div>
    <div id="error"></div>
    <ul id="faces"></ul>
    <script>
        let facing = 'front';
        function post(path) { fetch(path, { method: 'POST' }).then(refresh); }
        function flip() {
            facing = facing === 'front' ? 'back' : 'front';
            fetch('/api/camera/facing', {
                method: 'PUT',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ facing })
            }).then(refresh);
        }
        function refresh() {
            fetch('/api/status').then(r => r.json()).then(s => {
                document.getElementById('status').textContent = s.connection_text;
                if (s.camera && s.camera.facing) facing = s.camera.facing;
            });
        }
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/detections');
        ws.onmessage = (msg) => {
            const ev = JSON.parse(msg.data);
            if (ev.type === 'error') {
                document.getElementById('error').textContent = ev.error.message + (ev.error.hint ? ' (' + ev.error.hint + ')' : '');
                refresh();
                return;
            }
            document.getElementById('error').textContent = '';
            const list = document.getElementById('faces');
            list.innerHTML = '';
            (ev.faces || []).forEach(f => {
                const li = document.createElement('li');
                li.style.color = f.color;
                li.textContent = f.emoji + ' ' + f.emotion;
                list.appendChild(li);
            });
        };
        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>`
