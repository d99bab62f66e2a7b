package mcpserver

// VaultContract describes how a GM tool shares its vault with the room.
// Keys and channels are shown with the default namespace.
const VaultContract = `# Rulekeeper Vault Sharing Contract

A GM tool shares a vault (a tree of categories holding reference pages)
through the room it is connected to. Players never write these keys.

## Payload

` + "```" + `json
{
  "categories": [
    {
      "name": "NPCs",
      "pages": [
        {"id": "sildar", "title": "Sildar Hallwinter", "icon": "🛡", "url": "https://...", "visible": true}
      ],
      "categories": [
        {"name": "Allies", "pages": [{"id": 42, "title": "Gundren"}]}
      ]
    }
  ]
}
` + "```" + `

1. ` + "`categories`" + ` is required. A payload without it is ignored.
2. Page ` + "`id`" + ` may be a string or a number. The first page with a given id wins.
3. Pages with ` + "`\"visible\": false`" + ` are never shown to players.
4. Missing names default to ` + "`Uncategorized`" + `, missing titles to ` + "`Untitled`" + `.
5. A payload wrapped as ` + "`{\"config\": {...}}`" + ` is unwrapped once.

## Room metadata (read in this order)

| Key | Content |
|---|---|
| ` + "`com.rulekeeper.gm-vault/assistant-summary`" + ` | visible pages only |
| ` + "`com.rulekeeper.gm-vault/config`" + ` | full vault |
| ` + "`com.rulekeeper.gm-vault/visible-config`" + ` | visible pages only |

Players re-read metadata every 20 seconds.

## Broadcast channels

| Channel | Direction | Payload |
|---|---|---|
| ` + "`com.rulekeeper.gm-vault/request-vault`" + ` | player to GM | ` + "`{requesterId, requesterName, timestamp}`" + ` |
| ` + "`com.rulekeeper.gm-vault/vault-response`" + ` | GM to players | ` + "`{config, requesterId}`" + ` |
| ` + "`com.rulekeeper.gm-vault/visible-pages`" + ` | GM to players | ` + "`{config}`" + ` |

A player waits 5 seconds for a response after each request.
`
